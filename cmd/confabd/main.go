// Command confabd runs the chat relay.
//
// Configuration comes from flags or the environment (CONFAB_PORT,
// CONFAB_PASSWORD). The relay refuses to start when the port is already
// bound and exits non-zero.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"confab/internal/domain"
	"confab/internal/relay"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	root := &cobra.Command{
		Use:           "confabd",
		Short:         "Encrypted group chat relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := relay.New(relay.Config{
				Port:     viper.GetInt("port"),
				Password: viper.GetString("password"),
			}, logrus.NewEntry(log))

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-stop
				log.Info("shutting down")
				_ = srv.Close()
			}()

			return srv.ListenAndServe()
		},
	}

	root.Flags().Int("port", domain.DefaultPort, "listening port")
	root.Flags().String("password", "", "require this password from clients")
	_ = viper.BindPFlag("port", root.Flags().Lookup("port"))
	_ = viper.BindPFlag("password", root.Flags().Lookup("password"))
	viper.SetEnvPrefix("confab")
	viper.AutomaticEnv()

	if err := root.Execute(); err != nil {
		log.WithError(err).Error("relay exited")
		os.Exit(1)
	}
}
