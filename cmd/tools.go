package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joescharf/voxpilot/internal/models"
)

var (
	devToolID          string
	devToolName        string
	devToolDescription string
	devToolType        string
	devToolEndpoint    string
	devToolSchema      string
	devToolFile        string
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools the backend can execute",
	RunE: func(cmd *cobra.Command, args []string) error {
		return toolsListRun(cmd.Context())
	},
}

var devCmd = &cobra.Command{
	Use:   "dev",
	Short: "Developer console (developer or admin role)",
}

var devToolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Manage developer tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		return devToolsListRun(cmd.Context())
	},
}

var devToolsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List developer tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		return devToolsListRun(cmd.Context())
	},
}

var devToolsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a developer tool",
	Long: `Create a developer tool from flags or from a JSON file (--file).

  voxpilot dev tools create --name 股票 --schema '{"type":"object","properties":{"code":{"type":"string"}}}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return devToolsCreateRun(cmd.Context())
	},
}

var devToolsDeleteCmd = &cobra.Command{
	Use:     "delete <tool-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a developer tool",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return devToolsDeleteRun(cmd.Context(), args[0])
	},
}

func init() {
	f := devToolsCreateCmd.Flags()
	f.StringVar(&devToolID, "id", "", "Tool id (generated when omitted)")
	f.StringVar(&devToolName, "name", "", "Display name")
	f.StringVar(&devToolDescription, "description", "", "Description")
	f.StringVar(&devToolType, "type", "http", "Tool type")
	f.StringVar(&devToolEndpoint, "endpoint", "", "Endpoint config as JSON")
	f.StringVar(&devToolSchema, "schema", "", "Request JSON schema")
	f.StringVarP(&devToolFile, "file", "f", "", "Read the whole tool definition from a JSON file")

	devToolsCmd.AddCommand(devToolsListCmd)
	devToolsCmd.AddCommand(devToolsCreateCmd)
	devToolsCmd.AddCommand(devToolsDeleteCmd)
	devCmd.AddCommand(devToolsCmd)

	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(devCmd)
}

func printTools(list []*models.Tool, empty string) {
	if len(list) == 0 {
		ui.Info("%s", empty)
		return
	}
	table := ui.Table([]string{"ID", "Name", "Type", "Description"})
	for _, t := range list {
		table.Append([]string{ui.Accent(t.ToolID), t.Name, t.Type, t.Description})
	}
	table.Render()
}

func toolsListRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	list, err := newClient(s).Tools(ctx)
	if err != nil {
		return fmt.Errorf("list tools: %w", err)
	}
	printTools(list, "The backend reports no tools.")
	return nil
}

func devToolsListRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	list, err := newClient(s).DevTools(ctx)
	if err != nil {
		return fmt.Errorf("list dev tools: %w", err)
	}
	printTools(list, "No developer tools. Use 'voxpilot dev tools create' to add one.")
	return nil
}

// rawJSONFlag validates an optional JSON flag value.
func rawJSONFlag(name, value string) (json.RawMessage, error) {
	if value == "" {
		return nil, nil
	}
	if !json.Valid([]byte(value)) {
		return nil, fmt.Errorf("--%s is not valid JSON", name)
	}
	return json.RawMessage(value), nil
}

func devToolFromFlags() (*models.Tool, error) {
	if devToolFile != "" {
		data, err := os.ReadFile(devToolFile)
		if err != nil {
			return nil, fmt.Errorf("read tool file: %w", err)
		}
		var t models.Tool
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("parse tool file: %w", err)
		}
		return &t, nil
	}

	if devToolName == "" {
		return nil, fmt.Errorf("--name is required (or use --file)")
	}
	endpoint, err := rawJSONFlag("endpoint", devToolEndpoint)
	if err != nil {
		return nil, err
	}
	schema, err := rawJSONFlag("schema", devToolSchema)
	if err != nil {
		return nil, err
	}
	return &models.Tool{
		ToolID:        devToolID,
		Name:          devToolName,
		Type:          devToolType,
		Description:   devToolDescription,
		Endpoint:      endpoint,
		RequestSchema: schema,
	}, nil
}

func devToolsCreateRun(ctx context.Context) error {
	tool, err := devToolFromFlags()
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would create tool %q", tool.Name)
		return nil
	}

	created, err := newClient(s).CreateDevTool(ctx, tool)
	if err != nil {
		return fmt.Errorf("create dev tool: %w", err)
	}
	ui.Success("Created tool %s", ui.Accent(created.ToolID))
	return nil
}

func devToolsDeleteRun(ctx context.Context, toolID string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would delete tool %s", toolID)
		return nil
	}
	if err := newClient(s).DeleteDevTool(ctx, toolID); err != nil {
		return fmt.Errorf("delete dev tool: %w", err)
	}
	ui.Success("Deleted tool %s", toolID)
	return nil
}
