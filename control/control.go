// Package control turns operator input into pipeline commands.
package control

import (
	"bufio"
	"io"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
)

type Command int

const (
	Refresh Command = iota + 1
	Help
)

func (c Command) String() string {
	switch c {
	case Refresh:
		return "refresh"
	case Help:
		return "help"
	default:
		return "unknown"
	}
}

// HelpText lists the recognized operator commands.
const HelpText = "commands: r|refresh reloads the page, h|help shows this message"

const defaultQueueSize = 8

// Parse maps one input line to a command. Matching ignores case and
// surrounding whitespace.
func Parse(line string) (Command, bool) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "r", "refresh":
		return Refresh, true
	case "h", "help":
		return Help, true
	default:
		return 0, false
	}
}

// Listen reads lines from r in the background. Unrecognized lines are
// dropped. The returned channel is closed when r reaches EOF or fails.
func Listen(r io.Reader, logger hclog.Logger) <-chan Command {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	q := NewQueue(defaultQueueSize, logger)

	go func() {
		defer q.Close()

		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			cmd, ok := Parse(scanner.Text())
			if !ok {
				continue
			}
			logger.Debug("operator command", "command", cmd)
			q.Send(cmd)
		}
		if err := scanner.Err(); err != nil {
			logger.Debug("control input closed", "error", err)
			return
		}
		logger.Debug("control input reached EOF")
	}()

	return q.C()
}

// Merge fans several command streams into one. The result closes once every
// input has closed. Nil inputs are ignored.
func Merge(logger hclog.Logger, inputs ...<-chan Command) <-chan Command {
	q := NewQueue(defaultQueueSize, logger)

	var wg sync.WaitGroup
	for _, in := range inputs {
		if in == nil {
			continue
		}
		wg.Add(1)
		go func(in <-chan Command) {
			defer wg.Done()
			for cmd := range in {
				q.Send(cmd)
			}
		}(in)
	}

	go func() {
		wg.Wait()
		q.Close()
	}()

	return q.C()
}
