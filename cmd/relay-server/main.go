package main

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/natrelay/relay"
)

var rootCmd = &cobra.Command{
	Use:   "relay-server",
	Short: "NAT-traversing relay server for game clients and servers",
	RunE:  runServer,
}

var (
	flagPort        int
	flagDaemonize   bool
	flagLogFile     bool
	flagDebug       int
	flagMaxConns    int
	flagPortRange   string
	flagFacilitator string
	flagPassword    string
	flagAdminAddr   string
	flagPIDFile     string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.IntVarP(&flagPort, "port", "p", 10746, "listen port (1-65535)")
	flags.BoolVarP(&flagDaemonize, "daemonize", "d", false, "daemonize")
	flags.BoolVarP(&flagLogFile, "log-file", "l", false, "enable file logging to proxyserver.log")
	flags.IntVarP(&flagDebug, "debug", "e", 0, "debug level 0-9")
	flags.IntVarP(&flagMaxConns, "max-conns", "c", 1000, "max connections")
	flags.StringVarP(&flagPortRange, "port-range", "r", "50110:50120", "\"start:end\" server port range")
	flags.StringVarP(&flagFacilitator, "facilitator", "f", "facilitator.unity3d.com:50005", "facilitator libp2p multiaddr with /p2p/ peer id (a host:port value fails to connect)")
	flags.StringVarP(&flagPassword, "password", "i", "", "incoming-connection password")
	flags.StringVar(&flagAdminAddr, "admin-addr", ":9090", "metrics/health bind address")
	flags.StringVar(&flagPIDFile, "pid-file", "", "PID file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("[relay-server] fatal")
	}
}

// debugLevelToZerolog maps the original ProxyServer's 0-9 verbosity scale
// onto zerolog levels: 0 logs errors only, 1 warnings, 2-8 info, and 9
// trace, which also shows the relay's debug messages about dropped and
// malformed packets. No message is logged for every packet.
func debugLevelToZerolog(level int) zerolog.Level {
	switch {
	case level <= 0:
		return zerolog.ErrorLevel
	case level == 1:
		return zerolog.WarnLevel
	case level <= 8:
		return zerolog.InfoLevel
	default:
		return zerolog.TraceLevel
	}
}

func setupLogging() error {
	if flagLogFile {
		f, err := os.OpenFile("proxyserver.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return relay.WrapConfigError(err, "open log file")
		}
		log.Logger = zerolog.New(zerolog.MultiLevelWriter(
			zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339},
			f,
		)).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	zerolog.SetGlobalLevel(debugLevelToZerolog(flagDebug))
	return nil
}

func parsePortRange(s string) (uint16, uint16, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, relay.NewConfigError("port range %q must be \"start:end\"", s)
	}
	start, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		return 0, 0, relay.WrapConfigError(err, "port range start %q", parts[0])
	}
	end, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return 0, 0, relay.WrapConfigError(err, "port range end %q", parts[1])
	}
	return uint16(start), uint16(end), nil
}

func runServer(cmd *cobra.Command, args []string) error {
	if flagDaemonize {
		if err := daemonize(flagPIDFile); err != nil {
			return err
		}
	} else if flagPIDFile != "" {
		if err := writePIDFile(flagPIDFile); err != nil {
			return err
		}
	}

	if err := setupLogging(); err != nil {
		return err
	}

	rangeStart, rangeEnd, err := parsePortRange(flagPortRange)
	if err != nil {
		log.Fatal().Err(err).Msg("[relay-server] invalid port range")
		return err
	}

	if flagPort < 1 || flagPort > 65535 {
		err := relay.NewConfigError("listen port %d outside 1-65535", flagPort)
		log.Fatal().Err(err).Msg("[relay-server] invalid listen port")
		return err
	}

	cfg := relay.DefaultConfig()
	cfg.ListenPort = uint16(flagPort)
	cfg.PortRangeStart = rangeStart
	cfg.PortRangeEnd = rangeEnd
	cfg.MaxConnections = flagMaxConns
	cfg.DebugLevel = flagDebug
	cfg.IncomingPass = flagPassword
	cfg.FacilitatorAddr = flagFacilitator

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("[relay-server] invalid configuration")
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	transport := relay.NewKCPTransport()
	metrics := relay.NewMetrics()
	r, err := relay.New(cfg, transport, metrics)
	if err != nil {
		log.Fatal().Err(err).Msg("[relay-server] failed to build relay")
		return err
	}

	if cfg.FacilitatorAddr != "" {
		connectFacilitator(ctx, r, cfg.FacilitatorAddr)
	}

	go serveAdmin(ctx, flagAdminAddr, metrics)

	log.Info().
		Uint16("port", cfg.ListenPort).
		Str("port_range", flagPortRange).
		Int("max_conns", cfg.MaxConnections).
		Msg("[relay-server] starting")

	return r.Run(ctx)
}

// connectFacilitator dials the facilitator once at startup. Failure is
// logged and non-fatal: the relay still serves peers that dial it
// directly, only NAT-punch bootstrap assistance degrades.
func connectFacilitator(ctx context.Context, r *relay.Relay, addr string) {
	client, err := relay.NewFacilitatorClient(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("[relay-server] failed to create facilitator client")
		return
	}
	facilitatorAddr, err := client.Connect(ctx, addr)
	if err != nil {
		log.Warn().Err(err).Str("facilitator", addr).Msg("[relay-server] facilitator connect failed, continuing without it")
		return
	}
	r.SetFacilitator(facilitatorAddr)
}

func serveAdmin(ctx context.Context, addr string, metrics *relay.Metrics) {
	srv := &http.Server{Addr: addr, Handler: metrics.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Warn().Err(err).Str("addr", addr).Msg("[relay-server] admin server stopped")
	}
}
