// Command juice-probe is a manual interop tool for exercising one juice.Agent
// against a peer run the same way (spec.md §8): it gathers candidates, prints
// its local description block to stdout, reads the peer's description block
// from stdin, then starts checking and relays stdin lines as application data
// once a pair is nominated.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pion/logging"
	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"

	"github.com/AltFreq07/libjuice/internal/ice"
	"github.com/AltFreq07/libjuice/pkg/juice"
)

func main() {
	var (
		stunServer  = flag.String("stun-server", "", "STUN server for server-reflexive gathering, host:port")
		turnServer  = flag.String("turn-server", "", "TURN server for relayed gathering, host:port")
		turnUser    = flag.String("turn-user", "", "TURN long-term credential username")
		turnPass    = flag.String("turn-pass", "", "TURN long-term credential password")
		bindAddress = flag.String("bind", "", "restrict host gathering to this local address (e.g. 127.0.0.1 for a loopback test)")
		portMin     = flag.Uint16("port-min", 0, "lower bound of the local UDP port range (0 lets the OS choose)")
		portMax     = flag.Uint16("port-max", 0, "upper bound of the local UDP port range")
		controlling = flag.Bool("controlling", true, "run as the controlling (offering) agent rather than controlled (answering)")
		aggressive  = flag.Bool("aggressive", false, "use aggressive nomination instead of regular nomination")
		verbose     = flag.Bool("verbose", false, "log at debug level")
	)
	flag.Parse()

	loggerFactory := logging.NewDefaultLoggerFactory()
	if *verbose {
		loggerFactory.DefaultLogLevel = logging.LogLevelDebug
	}
	log := loggerFactory.NewLogger("juice-probe")

	cfg := juice.Config{
		STUNServer:          *stunServer,
		BindAddress:         *bindAddress,
		LocalPortRangeBegin: *portMin,
		LocalPortRangeEnd:   *portMax,
		Controlling:         *controlling,
		Aggressive:          *aggressive,
		LoggerFactory:       loggerFactory,
	}
	if *turnServer != "" {
		host, port, err := splitHostPort(*turnServer)
		if err != nil {
			log.Errorf("juice-probe: %v", err)
			os.Exit(1)
		}
		cfg.TURNServers = []juice.TURNServer{{
			Host:     host,
			Port:     port,
			Username: *turnUser,
			Password: *turnPass,
		}}
	}

	if err := run(cfg, *controlling, log); err != nil {
		log.Errorf("juice-probe: %v", err)
		os.Exit(1)
	}
}

func splitHostPort(hostport string) (string, int, error) {
	host, portStr, ok := strings.Cut(hostport, ":")
	if !ok {
		return "", 0, errors.Errorf("juice-probe: %q must be host:port", hostport)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return "", 0, errors.Wrapf(err, "juice-probe: parse port in %q", hostport)
	}
	return host, port, nil
}

func run(cfg juice.Config, controlling bool, log logging.LeveledLogger) error {
	agent, err := juice.NewAgent(cfg, controlling)
	if err != nil {
		return errors.Wrap(err, "create agent")
	}
	defer func() {
		if cerr := agent.Close(); cerr != nil {
			log.Warnf("juice-probe: close agent: %v", cerr)
		}
	}()

	agent.OnStateChange(func(s ice.ConnectionState) {
		log.Infof("juice-probe: connection state -> %s", s)
	})
	agent.OnData(func(payload []byte) {
		fmt.Printf("< %s\n", string(payload))
	})

	ctx := context.Background()
	gatherDone := make(chan struct{})
	agent.OnGatheringDone(func() { close(gatherDone) })
	if err := agent.Gather(ctx); err != nil {
		return errors.Wrap(err, "gather candidates")
	}
	<-gatherDone

	local := agent.LocalDescription()
	fmt.Println("--- paste the block below to your peer, then paste their block and press enter twice ---")
	fmt.Print(local.String())
	fmt.Println("--- end of local description ---")

	remoteText, err := readBlockUntilBlank(os.Stdin)
	if err != nil {
		return errors.Wrap(err, "read remote description")
	}
	remote, err := juice.ParseDescription(remoteText)
	if err != nil {
		return errors.Wrap(err, "parse remote description")
	}
	agent.SetRemoteDescription(remote)
	agent.StartChecking(ctx)

	log.Infof("juice-probe: checking started, type a line and press enter to send data; Ctrl-D to exit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := agent.SendData([]byte(line)); err != nil {
			log.Warnf("juice-probe: send: %v", err)
		}
	}
	return errors.Wrap(scanner.Err(), "read stdin")
}

// readBlockUntilBlank reads lines from r until a blank line or EOF, returning
// the lines read joined back together with newlines (spec.md §6's
// description block is itself newline-delimited, so the blank line is just
// this tool's own framing to know the peer finished pasting).
func readBlockUntilBlank(r *os.File) (string, error) {
	var b strings.Builder
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			break
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String(), scanner.Err()
}
