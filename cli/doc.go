/*
Package cli defines plugin extension points for the svcdebug command. This
allows to build extended services debugger CLI clients that leverage the
existing base implementation.

# Extension Points

The following plugin “group” extension points are available (and also invoked in
this general order):

  - [SetupCLI]: for adding (sub) commands and CLI args to the (in [cobra]
    parlance) “root” command.
  - [CommandExamples]: for adding (more) examples to particular commands, such
    as “hosts add” and “capture”. These plugin functions are invoked after all
    [SetupCLI] plugins have been called, so that all commands have been
    registered by the time the examples should be extended with even more
    examples.
  - [BeforeCommand]: for checking and doing things just before the command runs.
  - [NewClient]: for creating a suitable svcdebug service client, depending on
    CLI args.

The plugin mechanism is compile-time only and allows so-called plugins to
register functions in what is termed “groups”. The registered functions then
can be iterated over. For more details about the plugin mechanism, please refer
to [go-plugger].

# Configuration

[BindConfig] makes every CLI flag also configurable via environment variables
and an optional YAML configuration file, using [viper]. Explicitly set CLI
flags always win.

[cobra]: https://github.com/spf13/cobra
[go-plugger]: https://github.com/thediveo/go-plugger
[viper]: https://github.com/spf13/viper
*/
package cli
