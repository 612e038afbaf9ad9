package skill

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Settings are injected into the Skill Handler's environment at
// provisioning time.
type Settings struct {
	APIURL       string `env:"API_URL,required"`
	Region       string `env:"REGION"`
	FunctionName string `env:"FUNCTION_NAME" envDefault:"SkillAdapter"`
}

// LoadSettings reads settings from a function environment.
func LoadSettings(environ map[string]string) (Settings, error) {
	var s Settings
	if err := env.ParseWithOptions(&s, env.Options{Environment: environ}); err != nil {
		return Settings{}, fmt.Errorf("loading skill settings: %w", err)
	}
	return s, nil
}
