package cmd

import (
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// Validate checks whether the application configuration is valid.
func Validate(cliCtx *cli.Context) (int, error) {
	log.Debug("Validating configuration..")

	cfg, err := configure(cliCtx)
	if err != nil {
		log.WithError(err).Error("Failed to configure")
		return 1, err
	}

	log.Debug("Configuration is valid")

	if cliCtx.Bool("print") {
		if _, err = cliCtx.App.Writer.Write([]byte(cfg.ToYAML())); err != nil {
			return 1, err
		}
	}

	return 0, nil
}
