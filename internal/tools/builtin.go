package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/joescharf/voxpilot/internal/models"
)

type forecast struct {
	weather string
	low     int
	high    int
}

var forecasts = map[string]forecast{
	"上海": {"多云", 20, 28},
	"北京": {"晴天", 15, 25},
	"广州": {"阴天有雨", 22, 30},
}

// Default returns a registry with maps_weather and translate.
func Default() *Registry {
	r := NewRegistry()
	must(r.Register(models.Tool{
		ToolID:        "maps_weather",
		Name:          "天气查询",
		Type:          "http",
		Description:   "查询指定城市的天气预报",
		RequestSchema: stringParamSchema("city"),
	}, Weather))
	must(r.Register(models.Tool{
		ToolID:        "translate",
		Name:          "文本翻译",
		Type:          "http",
		Description:   "翻译指定文本",
		RequestSchema: stringParamSchema("text"),
	}, Translate))
	return r
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func stringParamSchema(name string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"type":"object","properties":{%q:{"type":"string"}},"required":[%q]}`, name, name))
}

// Weather answers from a fixed forecast table.
func Weather(_ context.Context, params map[string]any) (*models.ToolData, error) {
	city, _ := params["city"].(string)
	if city == "" {
		city = "未知城市"
	}
	f, ok := forecasts[city]
	if !ok {
		return &models.ToolData{
			TTSMessage: city + "天气数据暂时无法获取",
			RawData:    map[string]any{"city": city, "weather": "未知", "temp": "未知"},
		}, nil
	}
	return &models.ToolData{
		TTSMessage: fmt.Sprintf("%s今天%s，气温%d到%d度", city, f.weather, f.low, f.high),
		RawData: map[string]any{
			"city":    city,
			"weather": f.weather,
			"temp":    fmt.Sprintf("%d-%d°C", f.low, f.high),
		},
	}, nil
}

// Translate returns a placeholder translation.
func Translate(_ context.Context, params map[string]any) (*models.ToolData, error) {
	text, _ := params["text"].(string)
	translated := "Translation of " + text
	return &models.ToolData{
		TTSMessage: fmt.Sprintf("\"%s\"的翻译结果是\"%s\"", text, translated),
		RawData:    map[string]any{"original": text, "translated": translated},
	}, nil
}
