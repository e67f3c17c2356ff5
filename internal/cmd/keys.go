package cmd

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/keyrotor/keyrotor/internal/client"
	"github.com/keyrotor/keyrotor/internal/config"
)

var keysBindings = map[string]string{
	"host": "server.host",
	"port": "server.port",
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage keys on a running pool",
	Long: `Manage keys through the HTTP API of a running pool.

The server address defaults to server.host and server.port from config;
--server overrides it with a full base URL.`,
}

func init() {
	keysCmd.PersistentFlags().String("server", "", "pool base URL (default from server.host and server.port)")
	keysCmd.PersistentFlags().String("host", "", "pool host (default from config)")
	keysCmd.PersistentFlags().Int("port", 0, "pool port (default from config)")
	keysCmd.PersistentFlags().Duration("timeout", 10*time.Second, "per-request timeout")
	keysCmd.PersistentFlags().Float64("rate", 0, "maximum requests per second sent to the pool (0 = unlimited)")

	keysCmd.AddCommand(keysAddCmd, keysAddBulkCmd, keysDeleteCmd, keysDeactivateCmd,
		keysReactivateCmd, keysListCmd, keysStatsCmd, keysNextCmd)
	rootCmd.AddCommand(keysCmd)
}

// poolClient builds an API client from the keys flags and config.
func poolClient(cmd *cobra.Command) (*client.Client, *config.Config, error) {
	cfg, err := loadConfig(cmd, keysBindings)
	if err != nil {
		return nil, nil, err
	}

	baseURL, _ := cmd.Flags().GetString("server")
	if strings.TrimSpace(baseURL) == "" {
		baseURL = serverBaseURL(cfg.Server)
	}

	c := client.New(baseURL)
	if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
		c.HTTP.Timeout = timeout
	}
	if perSecond, _ := cmd.Flags().GetFloat64("rate"); perSecond > 0 {
		c.Limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	return c, cfg, nil
}

func serverBaseURL(s config.ServerConfig) string {
	host := strings.TrimSpace(s.Host)
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	port := s.Port
	if port == 0 {
		port = 8080
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// readKeyLines reads one key per line. Blank lines and lines starting with
// '#' are skipped.
func readKeyLines(r io.Reader) ([]string, error) {
	var keys []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys = append(keys, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func collectKeys(cmd *cobra.Command, args []string) ([]string, error) {
	keys := append([]string{}, args...)

	path, _ := cmd.Flags().GetString("file")
	path = strings.TrimSpace(path)
	if path == "" {
		return keys, nil
	}

	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open key file: %w", err)
		}
		defer f.Close() // nolint:errcheck // read-only
		r = f
	}

	fromFile, err := readKeyLines(r)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return append(keys, fromFile...), nil
}
