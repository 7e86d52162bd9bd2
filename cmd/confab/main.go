// Command confab is the chat client.
//
// It connects to a relay, performs the key exchange, and then bridges
// stdin lines to encrypted chat messages and inbound events to stdout.
// Type /leave (or close stdin) to disconnect gracefully.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"confab/internal/client"
	"confab/internal/domain"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetLevel(logrus.WarnLevel)

	stdin := bufio.NewReader(os.Stdin)

	root := &cobra.Command{
		Use:           "confab",
		Short:         "Encrypted group chat client",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			username := viper.GetString("username")
			if username == "" {
				var err error
				if username, err = prompt(stdin, "username: "); err != nil {
					return err
				}
			}

			handlers := client.Handlers{
				Message: func(sender domain.Username, text string, sentAt, _ time.Time) {
					fmt.Printf("[%s] %s: %s\n", sentAt.Format("15:04:05"), sender, text)
				},
				Join: func(_ domain.Username, notice string) {
					fmt.Printf("* %s\n", notice)
				},
				Leave: func(_ domain.Username, notice string) {
					fmt.Printf("* %s\n", notice)
				},
			}
			prompts := client.Prompts{
				Username: func() (string, error) {
					return prompt(stdin, "username taken, choose another: ")
				},
				Password: func() (string, error) {
					return prompt(stdin, "password: ")
				},
			}

			c, err := client.New(
				viper.GetString("host"), viper.GetInt("port"),
				username, handlers, prompts, logrus.NewEntry(log),
			)
			if err != nil {
				return err
			}
			if err := c.Connect(); err != nil {
				return err
			}
			fmt.Printf("connected as %s. type /leave to exit.\n", c.Username())

			go func() {
				for {
					line, err := stdin.ReadString('\n')
					if err != nil {
						// stdin closed: leave gracefully.
						_ = c.Send(domain.LeaveCommand)
						return
					}
					line = strings.TrimSpace(line)
					if line == "" {
						continue
					}
					if err := c.Send(line); err != nil {
						log.WithError(err).Warn("send failed")
						return
					}
					if line == domain.LeaveCommand {
						return
					}
				}
			}()

			if err := <-c.Done(); err != nil {
				return err
			}
			fmt.Println("disconnected.")
			return nil
		},
	}

	root.Flags().String("host", "127.0.0.1", "relay host")
	root.Flags().Int("port", domain.DefaultPort, "relay port")
	root.Flags().String("username", "", "chat username (alphanumeric, 3-20 chars)")
	_ = viper.BindPFlag("host", root.Flags().Lookup("host"))
	_ = viper.BindPFlag("port", root.Flags().Lookup("port"))
	_ = viper.BindPFlag("username", root.Flags().Lookup("username"))
	viper.SetEnvPrefix("confab")
	viper.AutomaticEnv()

	if err := root.Execute(); err != nil {
		log.WithError(err).Error("client exited")
		os.Exit(1)
	}
}

func prompt(r *bufio.Reader, label string) (string, error) {
	fmt.Print(label)
	line, err := r.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
