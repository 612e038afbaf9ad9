package endpointcloud

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Settings is the provisioning-time environment of the endpoint handler.
// It is parsed from the function's environment map, never from the
// process environment directly, so one process can host several units.
type Settings struct {
	APIID                string `env:"API_ID"`
	EndpointDetailsTable string `env:"ENDPOINT_DETAILS_TABLE,required"`
	UsersTable           string `env:"USERS_TABLE,required"`
	Region               string `env:"REGION"`
	FunctionName         string `env:"FUNCTION_NAME" envDefault:"EndpointAdapter"`
}

// LoadSettings parses Settings from environ.
func LoadSettings(environ map[string]string) (Settings, error) {
	var s Settings
	if err := env.ParseWithOptions(&s, env.Options{Environment: environ}); err != nil {
		return Settings{}, fmt.Errorf("parsing endpoint handler settings: %w", err)
	}
	return s, nil
}
