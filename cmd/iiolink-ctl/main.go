package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	iio "github.com/NCAR/iioclient"
)

const (
	logLevelAll   = "all"
	logLevelDebug = "debug"
	logLevelInfo  = "info"
	logLevelWarn  = "warn"
	logLevelError = "error"
	logLevelNone  = "none"
)

var availableLogLevels = strings.Join([]string{
	logLevelAll, logLevelDebug, logLevelInfo, logLevelWarn, logLevelError, logLevelNone,
}, ", ")

func main() {
	if err := Main(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

//Main is the principal function for the binary, wrapped only by main so
//the exit path stays testable in isolation.
func Main() error {
	if err := initConfig(); err != nil {
		return err
	}

	logger, err := buildLogger()
	if err != nil {
		return err
	}

	args := flag.Args()
	if len(args) == 0 {
		return fmt.Errorf("usage: iiolink-ctl [flags] scan|attr|readbuf|version ...")
	}

	uri := viper.GetString("uri")
	if preset := viper.GetString("preset"); preset != "" {
		presets, err := iio.LoadPresets(viper.GetViper())
		if err != nil {
			return err
		}
		p, ok := presets[preset]
		if !ok {
			return fmt.Errorf("no such preset %q", preset)
		}
		uri = p.URI
	}

	switch args[0] {
	case "scan":
		return runScan()
	case "attr":
		return runAttr(uri, logger, args[1:])
	case "readbuf":
		return runReadBuf(uri, logger, args[1:])
	case "version":
		return runVersion(uri, logger)
	default:
		return fmt.Errorf("unknown subcommand %q", args[0])
	}
}

func initConfig() error {
	cfgFile := flag.String("config", "", "Path to the config file.")
	flag.String("uri", "", "Connection URI (ip:<host>[:port] or usb:<bus>.<address>[.<iface>]).")
	flag.String("preset", "", "Named connection preset from the config file.")
	flag.Duration("timeout", 5*time.Second, "Transport timeout.")
	flag.String("log-level", logLevelInfo, fmt.Sprintf("Log level to use. Possible values: %s", availableLogLevels))
	flag.Parse()

	if err := viper.BindPFlags(flag.CommandLine); err != nil {
		return fmt.Errorf("failed to bind config: %w", err)
	}

	if *cfgFile != "" {
		viper.SetConfigFile(*cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("$HOME/.iiolink")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

func buildLogger() (log.Logger, error) {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	switch viper.GetString("log-level") {
	case logLevelAll:
		logger = level.NewFilter(logger, level.AllowAll())
	case logLevelDebug:
		logger = level.NewFilter(logger, level.AllowDebug())
	case logLevelInfo:
		logger = level.NewFilter(logger, level.AllowInfo())
	case logLevelWarn:
		logger = level.NewFilter(logger, level.AllowWarn())
	case logLevelError:
		logger = level.NewFilter(logger, level.AllowError())
	case logLevelNone:
		logger = level.NewFilter(logger, level.AllowNone())
	default:
		return nil, fmt.Errorf("log level %v unknown; possible values are: %s", viper.GetString("log-level"), availableLogLevels)
	}
	return log.With(logger, "ts", log.DefaultTimestampUTC), nil
}

func runScan() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	netResults, err := iio.ScanNetwork(ctx, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "network scan: %v\n", err)
	}
	usbResults, err := iio.ScanUSB()
	if err != nil {
		fmt.Fprintf(os.Stderr, "usb scan: %v\n", err)
	}

	fmt.Print(iio.RenderScanResults(append(netResults, usbResults...)))
	return nil
}

func connect(uri string, logger log.Logger, timeout time.Duration) (*iio.Client, *iio.Responder, error) {
	if uri == "" {
		return nil, nil, fmt.Errorf("no --uri or --preset given")
	}
	endpoint, err := iio.ParseURI(uri)
	if err != nil {
		return nil, nil, err
	}
	if endpoint.Kind != iio.TransportNetwork {
		return nil, nil, fmt.Errorf("iiolink-ctl only dials network endpoints directly; use a library integration for USB")
	}

	address := endpoint.Host
	if endpoint.Port != "" {
		address = address + ":" + endpoint.Port
	}

	port, err := iio.DialNet(context.Background(), address, timeout)
	if err != nil {
		return nil, nil, err
	}

	responder := iio.NewResponder(port, nil, iio.WithLogger(logger))
	responder.Start()

	return iio.NewClient(responder), responder, nil
}

func runAttr(uri string, logger log.Logger, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: iiolink-ctl attr get|set <dev> <name> [value]")
	}
	dev, err := strconv.ParseUint(args[1], 10, 8)
	if err != nil {
		return fmt.Errorf("bad device index %q: %w", args[1], err)
	}

	client, responder, err := connect(uri, logger, viper.GetDuration("timeout"))
	if err != nil {
		return err
	}
	defer responder.Stop()

	switch args[0] {
	case "get":
		if len(args) < 3 {
			return fmt.Errorf("usage: iiolink-ctl attr get <dev> <name>")
		}
		val, err := client.ReadAttr(uint8(dev), args[2])
		if err != nil {
			return err
		}
		fmt.Println(string(val))
	case "set":
		if len(args) < 4 {
			return fmt.Errorf("usage: iiolink-ctl attr set <dev> <name> <value>")
		}
		return client.WriteAttr(uint8(dev), args[2], []byte(args[3]))
	default:
		return fmt.Errorf("unknown attr subcommand %q", args[0])
	}
	return nil
}

func runReadBuf(uri string, logger log.Logger, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: iiolink-ctl readbuf <dev> <bytes>")
	}
	dev, err := strconv.ParseUint(args[0], 10, 8)
	if err != nil {
		return fmt.Errorf("bad device index %q: %w", args[0], err)
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("bad byte count %q: %w", args[1], err)
	}

	client, responder, err := connect(uri, logger, viper.GetDuration("timeout"))
	if err != nil {
		return err
	}
	defer responder.Stop()

	buf := make([]byte, n)
	got, err := client.ReadBuf(uint8(dev), buf)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(buf[:got])
	return err
}

func runVersion(uri string, logger log.Logger) error {
	client, responder, err := connect(uri, logger, viper.GetDuration("timeout"))
	if err != nil {
		return err
	}
	defer responder.Stop()

	v, err := client.Version()
	if err != nil {
		return err
	}
	fmt.Println(v)
	return nil
}
