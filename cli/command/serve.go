// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package command

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/siemens/svcdebug"
	"github.com/siemens/svcdebug/cli"
	"github.com/siemens/svcdebug/hostrepo"
	"github.com/siemens/svcdebug/server"
	"github.com/siemens/svcdebug/sshconn"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/thediveo/go-plugger/v3"
)

// Defaults of the "svcdebug serve" command.
const (
	DefaultListen   = ":8000"
	DefaultDatabase = "svcdebug.db"
)

// serveCmd defines the "svcdebug serve" command which runs the services
// debugger service until SIGINT'ed or SIGTERM'ed.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the services debugger API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		listen, _ := f.GetString("listen")
		database, _ := f.GetString("database")
		taskTimeout, _ := f.GetDuration("task-timeout")
		sshTimeout, _ := f.GetDuration("ssh-timeout")

		repo, err := hostrepo.Open(database)
		if err != nil {
			return err
		}
		defer repo.Close()
		ssh := sshconn.DefaultManager("svcdebug")
		ssh.DialTimeout = sshTimeout
		defer ssh.DestroyAll()
		tasks := svcdebug.NewTaskManager("svcdebug", ssh)
		tasks.Timeout = taskTimeout
		defer tasks.Close()
		log.Infof("services debugger version %s, %s", svcdebug.SemVersion, tasks)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return server.New(repo, tasks, ssh, BearerToken).ListenAndServe(ctx, listen)
	},
}

func init() {
	plugger.Group[cli.SetupCLI]().Register(ServeSetupCLI, plugger.WithPlugin("serve"))
	plugger.Group[cli.CommandExamples]().Register(
		func() map[string]string {
			return map[string]string{
				"serve": `# Serve on port 8080, requiring clients to authenticate.
SVCDEBUG_TOKEN=s3cr3t svcdebug serve --listen :8080`,
			}
		},
		plugger.WithPlugin("serve"))
}

// ServeSetupCLI adds the "serve" command.
func ServeSetupCLI(cmd *cobra.Command) {
	cmd.AddCommand(serveCmd)
	f := serveCmd.Flags()
	f.String("listen", DefaultListen, "Address to serve the API on")
	f.String("database", DefaultDatabase, "SQLite database file storing the registered hosts")
	f.Duration("task-timeout", svcdebug.DefaultTaskTimeout, "Time limit for starting dump tasks")
	f.Duration("ssh-timeout", sshconn.DefaultDialTimeout, "Time limit for connecting to hosts")
}
