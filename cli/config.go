// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package cli

import (
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// BindConfig sets all flags of cmd (including inherited ones) that haven't
// been explicitly set on the command line from environment variables named
// “<PREFIX>_<FLAG_NAME>” and from the optional YAML configuration file. Dashes
// in flag names become underscores in environment variable names.
func BindConfig(cmd *cobra.Command, envPrefix string, configFile string) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "cannot read configuration file %s", configFile)
		}
		log.Debugf("read configuration from %s", configFile)
	}
	var err error
	visit := func(flag *pflag.Flag) {
		if err != nil || flag.Changed {
			return
		}
		if !v.IsSet(flag.Name) {
			return
		}
		value := v.GetString(flag.Name)
		if sv, ok := flag.Value.(pflag.SliceValue); ok {
			err = sv.Replace(v.GetStringSlice(flag.Name))
		} else {
			err = flag.Value.Set(value)
		}
		if err != nil {
			err = errors.Wrapf(err, "invalid configuration value %q for %s", value, flag.Name)
			return
		}
		flag.Changed = true
	}
	// Once parsed, the command's flag set includes the inherited flags.
	cmd.Flags().VisitAll(visit)
	return err
}
