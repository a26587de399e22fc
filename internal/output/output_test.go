package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUI() (*UI, *bytes.Buffer, *bytes.Buffer) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &UI{Out: out, ErrOut: errOut}, out, errOut
}

func TestInfo(t *testing.T) {
	u, out, _ := newTestUI()
	u.Info("hello %s", "world")
	assert.Contains(t, out.String(), "hello world")
}

func TestSuccess(t *testing.T) {
	u, out, _ := newTestUI()
	u.Success("done %d", 42)
	assert.Contains(t, out.String(), "done 42")
}

func TestWarning(t *testing.T) {
	u, _, errOut := newTestUI()
	u.Warning("careful %s", "now")
	assert.Contains(t, errOut.String(), "careful now")
}

func TestError(t *testing.T) {
	u, _, errOut := newTestUI()
	u.Error("failed %s", "badly")
	assert.Contains(t, errOut.String(), "failed badly")
}

func TestSayAndPrompt(t *testing.T) {
	u, out, _ := newTestUI()
	u.Say("您想查询上海的天气吗？")
	u.Prompt("请说话: ")
	assert.Contains(t, out.String(), "您想查询上海的天气吗？\n")
	assert.True(t, strings.HasSuffix(out.String(), "请说话: "))
}

func TestVerboseLog_Enabled(t *testing.T) {
	u, out, _ := newTestUI()
	u.Verbose = true
	u.VerboseLog("detail %d", 1)
	assert.Contains(t, out.String(), "detail 1")
}

func TestVerboseLog_Disabled(t *testing.T) {
	u, out, _ := newTestUI()
	u.Verbose = false
	u.VerboseLog("detail %d", 1)
	assert.Empty(t, out.String())
}

func TestDryRunMsg_Enabled(t *testing.T) {
	u, _, errOut := newTestUI()
	u.DryRun = true
	u.DryRunMsg("would create %s", "file")
	assert.Contains(t, errOut.String(), "[DRY-RUN]")
	assert.Contains(t, errOut.String(), "would create file")
}

func TestDryRunMsg_Disabled(t *testing.T) {
	u, _, errOut := newTestUI()
	u.DryRun = false
	u.DryRunMsg("would create %s", "file")
	assert.Empty(t, errOut.String())
}

func TestUseTheme(t *testing.T) {
	u, _, _ := newTestUI()
	u.UseTheme("light")
	assert.Equal(t, LightPalette, u.Palette)
	u.UseTheme("dark")
	assert.Equal(t, DarkPalette, u.Palette)
	u.UseTheme("anything")
	assert.Equal(t, DarkPalette, u.Palette)
}

func TestStageColor(t *testing.T) {
	u, _, _ := newTestUI()
	for _, s := range []string{"recording", "interpreting", "confirming", "executing", "completed"} {
		assert.Contains(t, u.StageColor(s), s)
	}
	assert.Equal(t, "idle", u.StageColor("idle"))
}

func TestOutcomeColor(t *testing.T) {
	u, _, _ := newTestUI()
	assert.Contains(t, u.OutcomeColor("completed"), "completed")
	assert.Contains(t, u.OutcomeColor("failed"), "failed")
	assert.Equal(t, "other", u.OutcomeColor("other"))
}

func TestTable(t *testing.T) {
	u, out, _ := newTestUI()
	table := u.Table([]string{"Tool", "Name"})
	require.NotNil(t, table)

	table.Append([]string{"maps_weather", "天气查询"})
	table.Append([]string{"translate", "文本翻译"})
	err := table.Render()
	require.NoError(t, err)

	result := out.String()
	assert.Contains(t, result, "maps_weather")
	assert.Contains(t, result, "translate")
}
