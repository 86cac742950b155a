package router

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/clduab11/pricehawk/internal/domain"
)

// Pool identifies which partition of the model table selection draws from.
type Pool string

const (
	// PoolStandard holds all enabled free models.
	PoolStandard Pool = "standard"
	// PoolSOTA holds enabled paid fallbacks and premium models.
	PoolSOTA Pool = "sota"
)

// defaultModels is the compiled-in model table. A YAML file referenced by
// MODEL_POOL_FILE replaces it entirely. Order is significant: selection
// tie-breaks and the first-enabled fallback follow table order.
var defaultModels = []domain.ModelConfig{
	{ID: "meta-llama/llama-3.3-70b-instruct:free", Name: "Llama 3.3 70B", Provider: "openrouter", BaseWeight: 80, ContextWindow: 131072, Tier: domain.ModelTierMid, Capabilities: []string{"json"}, SupportsTools: true, IsFree: true, TimeoutMS: 30000, Enabled: true},
	{ID: "google/gemini-2.0-flash-exp:free", Name: "Gemini 2.0 Flash", Provider: "openrouter", BaseWeight: 70, ContextWindow: 1048576, Tier: domain.ModelTierMid, Capabilities: []string{"json"}, SupportsTools: true, IsFree: true, TimeoutMS: 20000, Enabled: true},
	{ID: "qwen/qwen-2.5-72b-instruct:free", Name: "Qwen 2.5 72B", Provider: "openrouter", BaseWeight: 60, ContextWindow: 32768, Tier: domain.ModelTierMid, Capabilities: []string{"json"}, SupportsTools: false, IsFree: true, TimeoutMS: 30000, Enabled: true},
	{ID: "mistralai/mistral-small-24b-instruct:free", Name: "Mistral Small 24B", Provider: "openrouter", BaseWeight: 50, ContextWindow: 32768, Tier: domain.ModelTierBase, Capabilities: []string{"json"}, SupportsTools: true, IsFree: true, TimeoutMS: 20000, Enabled: true},
	{ID: "deepseek/deepseek-chat:free", Name: "DeepSeek V3", Provider: "openrouter", BaseWeight: 65, ContextWindow: 65536, Tier: domain.ModelTierMid, Capabilities: []string{"json"}, SupportsTools: false, IsFree: true, TimeoutMS: 45000, Enabled: true},
	{ID: "openai/gpt-4o", Name: "GPT-4o", Provider: "openrouter", BaseWeight: 90, ContextWindow: 128000, Tier: domain.ModelTierHigh, Capabilities: []string{"json", "vision"}, SupportsTools: true, IsFree: false, TimeoutMS: 30000, Enabled: true},
	{ID: "anthropic/claude-sonnet-4", Name: "Claude Sonnet 4", Provider: "openrouter", BaseWeight: 95, ContextWindow: 200000, Tier: domain.ModelTierHigh, Capabilities: []string{"json"}, SupportsTools: true, IsFree: false, TimeoutMS: 30000, Enabled: true},
}

type poolFile struct {
	Models []domain.ModelConfig `yaml:"models" validate:"required,min=1,dive"`
}

// LoadPool returns the model table: the YAML file at path when given,
// otherwise the compiled-in defaults. Every entry is validated; a bad table
// fails startup.
func LoadPool(path string) ([]domain.ModelConfig, error) {
	models := defaultModels
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("op=router.LoadPool path=%s: %w", path, err)
		}
		var f poolFile
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("op=router.LoadPool path=%s: %w", path, err)
		}
		models = f.Models
	}

	v := validator.New()
	for i, m := range models {
		if err := v.Struct(m); err != nil {
			return nil, fmt.Errorf("op=router.LoadPool model=%d id=%s: %w", i, m.ID, err)
		}
	}
	out := make([]domain.ModelConfig, len(models))
	copy(out, models)
	return out, nil
}

// partition filters the table into a pool, optionally restricted to
// tool-capable models. Disabled models never appear.
func partition(models []domain.ModelConfig, pool Pool, toolsOnly bool) []domain.ModelConfig {
	var out []domain.ModelConfig
	for _, m := range models {
		if !m.Enabled {
			continue
		}
		if pool == PoolStandard && !m.IsFree {
			continue
		}
		if pool == PoolSOTA && m.IsFree {
			continue
		}
		if toolsOnly && !m.SupportsTools {
			continue
		}
		out = append(out, m)
	}
	return out
}
