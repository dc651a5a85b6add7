package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"metron/host/monitor"
)

var (
	device  = flag.String("device", "/dev/ttyACM0", "Serial device path")
	logPath = flag.String("log", "", "Record watch samples to this SQLite file")
)

func main() {
	flag.Parse()

	fmt.Println("Metron Host Monitor")
	fmt.Println()

	fmt.Printf("Connecting to %s...\n", *device)
	mon, err := monitor.Connect(*device)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer mon.Close()

	if err := mon.FetchDictionary(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to retrieve dictionary: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(mon.Dictionary().Summary())
	freq := clockFreq(mon.Dictionary())

	var statLog *monitor.StatLog
	if *logPath != "" {
		statLog, err = monitor.OpenStatLog(*logPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer statLog.Close()
		fmt.Printf("Recording watch samples to %s\n", *logPath)
	}

	fmt.Println("Enter commands (type 'help' for available commands, 'quit' to exit):")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := parts[0]

		var err error
		switch cmd {
		case "quit", "exit", "q":
			fmt.Println("Goodbye!")
			return

		case "help", "?":
			printHelp()

		case "dict":
			fmt.Print(mon.Dictionary().Summary())

		case "raw":
			raw := mon.RawDictionary()
			fmt.Printf("Raw dictionary (%d bytes):\n%s\n", len(raw), string(raw))

		case "clock":
			err = showClock(mon, freq)

		case "uptime":
			err = showUptime(mon, freq)

		case "stats":
			err = showStats(mon, freq)

		case "reset_stats":
			err = mon.ResetStats()

		case "trace":
			err = showTrace(mon)

		case "pulse":
			err = runPulse(mon, freq, parts[1:])

		case "pulse_stop":
			err = stopPulse(mon)

		case "watch":
			err = runWatch(mon, statLog, parts[1:])

		case "reset":
			err = mon.Reset()
			if err == nil {
				fmt.Println("Board resetting, link will drop.")
			}

		default:
			fmt.Printf("Unknown command: %s (type 'help' for available commands)\n", cmd)
		}

		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println("\nAvailable commands:")
	fmt.Println("  help                     - Show this help message")
	fmt.Println("  dict                     - Print dictionary summary")
	fmt.Println("  raw                      - Print raw dictionary JSON")
	fmt.Println("  clock                    - Read the board clock")
	fmt.Println("  uptime                   - Read the 64 bit clock")
	fmt.Println("  stats                    - Read sleep statistics")
	fmt.Println("  reset_stats              - Clear sleep statistics")
	fmt.Println("  trace                    - Dump the dispatch trace ring")
	fmt.Println("  pulse <interval_us> [n]  - Start the sync pulse (n edges, 0 = forever)")
	fmt.Println("  pulse_stop               - Stop the sync pulse")
	fmt.Println("  watch [n]                - Poll stats once a second, n samples")
	fmt.Println("  reset                    - Reboot the board")
	fmt.Println("  quit/exit/q              - Exit the program")
	fmt.Println()
}

// clockFreq reads CLOCK_FREQ from the dictionary config.
func clockFreq(d *monitor.Dictionary) uint32 {
	if v, ok := d.Config["CLOCK_FREQ"].(float64); ok && v > 0 {
		return uint32(v)
	}
	return 1000000
}

func showClock(mon *monitor.Monitor, freq uint32) error {
	clock, err := mon.GetClock()
	if err != nil {
		return err
	}
	fmt.Printf("clock: %d ticks (%.3f s into current wrap)\n", clock, float64(clock)/float64(freq))
	return nil
}

func showUptime(mon *monitor.Monitor, freq uint32) error {
	up, err := mon.GetUptime()
	if err != nil {
		return err
	}
	fmt.Printf("uptime: %d ticks (%.3f s)\n", up, float64(up)/float64(freq))
	return nil
}

func showStats(mon *monitor.Monitor, freq uint32) error {
	st, err := mon.GetStats()
	if err != nil {
		return err
	}
	fmt.Printf("sleeps=%d sum=%d sumsq=%d\n", st.Count, st.Sum, st.SumSq)
	if st.Count > 0 {
		avg := float64(st.Sum) / float64(st.Count)
		fmt.Printf("average sleep: %.1f ticks (%.1f us)\n", avg, avg*1e6/float64(freq))
	}
	return nil
}

var traceKinds = map[uint8]string{
	1: "defer",
	2: "past_fault",
	3: "idle_sleep",
	4: "window_reset",
}

func showTrace(mon *monitor.Monitor) error {
	events, err := mon.DumpTrace()
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("trace ring empty")
		return nil
	}
	for _, e := range events {
		kind, ok := traceKinds[e.Kind]
		if !ok {
			kind = fmt.Sprintf("kind=%d", e.Kind)
		}
		fmt.Printf("  %-12s clock=%-10d value=%d\n", kind, e.Clock, e.Value)
	}
	return nil
}

func runPulse(mon *monitor.Monitor, freq uint32, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: pulse <interval_us> [count]")
	}
	intervalUS, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("bad interval: %v", err)
	}
	if intervalUS == 0 {
		return fmt.Errorf("interval must be positive")
	}
	count := uint64(0)
	if len(args) > 1 {
		count, err = strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("bad count: %v", err)
		}
	}

	interval := uint32(intervalUS) * (freq / 1000000)
	if err := mon.StartPulse(interval, uint32(count)); err != nil {
		return err
	}
	if count == 0 {
		fmt.Printf("pulse running every %d us (pulse_stop to end)\n", intervalUS)
		return nil
	}

	wait := time.Duration(intervalUS*count)*time.Microsecond + 2*time.Second
	fired, err := mon.WaitPulseDone(wait)
	if err != nil {
		return err
	}
	fmt.Printf("pulse done: %d edges\n", fired)
	return nil
}

func stopPulse(mon *monitor.Monitor) error {
	fired, err := mon.StopPulse()
	if err != nil {
		return err
	}
	fmt.Printf("pulse stopped after %d edges\n", fired)
	return nil
}

func runWatch(mon *monitor.Monitor, statLog *monitor.StatLog, args []string) error {
	samples := 10
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("bad sample count: %s", args[0])
		}
		samples = n
	}
	return mon.WatchStats(time.Second, samples, func(s monitor.Sample) error {
		fmt.Printf("%s clock=%-10d sleeps=%-6d sum=%d\n",
			s.When.Format("15:04:05"), s.Clock, s.Count, s.Sum)
		if statLog != nil {
			if err := statLog.Record(s); err != nil {
				return fmt.Errorf("record sample: %w", err)
			}
		}
		return nil
	})
}
