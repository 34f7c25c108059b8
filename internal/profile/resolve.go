package profile

import "github.com/Akgit99/message-dash-f/internal/config"

const DefaultName = "main"

// Resolve picks the active profile: the --profile flag, then the config's
// default_profile (which the environment may have overridden), then "main".
func Resolve(flagOverride string, cfg *config.Config) string {
	if flagOverride != "" {
		return flagOverride
	}
	if cfg != nil && cfg.DefaultProfile != "" {
		return cfg.DefaultProfile
	}
	return DefaultName
}
