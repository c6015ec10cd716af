package mpd

import (
	"bufio"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeServer speaks enough of the MPD protocol to drive the engine: one shared
// player state, command lists and idle notifications. Every state-changing
// command is logged in a normalized form.
type fakeServer struct {
	t    *testing.T
	ln   net.Listener
	done chan struct{}
	wg   sync.WaitGroup

	changes chan string

	mu      sync.Mutex
	conns   map[net.Conn]*atomic.Bool // connection -> idling
	dials   int
	log     []string
	queue   []string
	state   string
	song    int
	elapsed float64
	random  bool
	repeat  bool
	single  bool
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &fakeServer{
		t:       t,
		ln:      ln,
		done:    make(chan struct{}),
		changes: make(chan string),
		conns:   make(map[net.Conn]*atomic.Bool),
		state:   "stop",
		song:    -1,
	}
	s.wg.Add(1)
	go s.accept()
	t.Cleanup(s.close)
	return s
}

func (s *fakeServer) config() Config {
	return Config{Host: "127.0.0.1", Port: s.ln.Addr().(*net.TCPAddr).Port}
}

func (s *fakeServer) close() {
	close(s.done)
	_ = s.ln.Close()
	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// commands returns the logged state-changing commands.
func (s *fakeServer) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.log)
}

func (s *fakeServer) dialCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

func (s *fakeServer) idleClients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, idle := range s.conns {
		if idle.Load() {
			n++
		}
	}
	return n
}

// dropCommandConns closes every connection that is not idling.
func (s *fakeServer) dropCommandConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, idle := range s.conns {
		if !idle.Load() {
			_ = conn.Close()
		}
	}
}

// change wakes the idling client with a subsystem change.
func (s *fakeServer) change(subsystem string) {
	s.t.Helper()
	select {
	case s.changes <- subsystem:
	case <-time.After(2 * time.Second):
		s.t.Fatalf("no idle client for %q", subsystem)
	}
}

// setState changes the player state behind the engine's back.
func (s *fakeServer) setState(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *fakeServer) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		idle := &atomic.Bool{}
		s.mu.Lock()
		s.conns[conn] = idle
		s.dials++
		s.mu.Unlock()

		s.wg.Add(2)
		go s.serve(conn, idle)
	}
}

func (s *fakeServer) serve(conn net.Conn, idle *atomic.Bool) {
	defer s.wg.Done()
	defer func() {
		_ = conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	lines := make(chan string)
	go func() {
		defer s.wg.Done()
		defer close(lines)
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-s.done:
				return
			}
		}
	}()

	w := bufio.NewWriter(conn)
	reply := func(text string) bool {
		if _, err := w.WriteString(text); err != nil {
			return false
		}
		return w.Flush() == nil
	}
	if !reply("OK MPD 0.23.0\n") {
		return
	}

	var list []string
	inList, listOK := false, false
	for {
		var changes chan string
		if idle.Load() {
			changes = s.changes
		}

		select {
		case <-s.done:
			return
		case subsystem := <-changes:
			idle.Store(false)
			if !reply("changed: " + subsystem + "\nOK\n") {
				return
			}
		case line, ok := <-lines:
			if !ok {
				return
			}
			var out string
			switch {
			case idle.Load():
				if line != "noidle" {
					continue
				}
				idle.Store(false)
				out = "OK\n"
			case inList && line != "command_list_end":
				list = append(list, line)
				continue
			case inList:
				inList = false
				out = s.execList(list, listOK)
			case line == "command_list_begin", line == "command_list_ok_begin":
				inList, listOK, list = true, line == "command_list_ok_begin", nil
				continue
			case strings.HasPrefix(line, "idle"):
				idle.Store(true)
				continue
			case line == "noidle":
				continue
			case line == "close":
				return
			default:
				result, err := s.exec(line)
				if err != nil {
					out = fmt.Sprintf("ACK [5@0] {%s} %v\n", commandName(line), err)
				} else {
					out = result + "OK\n"
				}
			}
			if !reply(out) {
				return
			}
		}
	}
}

func (s *fakeServer) execList(list []string, listOK bool) string {
	var out strings.Builder
	for i, cmd := range list {
		result, err := s.exec(cmd)
		if err != nil {
			fmt.Fprintf(&out, "ACK [5@%d] {%s} %v\n", i, commandName(cmd), err)
			return out.String()
		}
		out.WriteString(result)
		if listOK {
			out.WriteString("list_OK\n")
		}
	}
	out.WriteString("OK\n")
	return out.String()
}

func (s *fakeServer) exec(line string) (string, error) {
	name, args := splitCommand(line)
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch name {
	case "ping", "password":
		return "", nil
	case "status":
		return s.statusLocked(), nil
	case "currentsong":
		if s.song < 0 || s.song >= len(s.queue) {
			return "", nil
		}
		// local files are reported as paths
		return "file: " + strings.TrimPrefix(s.queue[s.song], "file://") + "\n", nil
	}

	entry := strings.TrimSpace(name + " " + strings.Join(args, " "))
	switch name {
	case "clear":
		s.queue, s.song, s.state, s.elapsed = nil, -1, "stop", 0
	case "add":
		s.queue = append(s.queue, arg(0))
	case "seek":
		pos, err := strconv.Atoi(arg(0))
		if err != nil || pos < 0 || pos >= len(s.queue) {
			return "", fmt.Errorf("bad song index %q", arg(0))
		}
		secs, _ := strconv.ParseFloat(arg(1), 64)
		s.song, s.elapsed = pos, secs
		if s.state == "stop" {
			s.state = "play"
		}
		entry = fmt.Sprintf("seek %d %g", pos, secs)
	case "seekcur":
		secs, _ := strconv.ParseFloat(arg(0), 64)
		s.elapsed = secs
		entry = fmt.Sprintf("seekcur %g", secs)
	case "play":
		if pos, err := strconv.Atoi(arg(0)); err == nil && pos >= 0 {
			s.song = pos
		} else {
			entry = "play"
		}
		if s.song < 0 {
			if len(s.queue) == 0 {
				return "", fmt.Errorf("empty queue")
			}
			s.song = 0
		}
		s.state = "play"
	case "pause":
		if s.state != "stop" {
			if arg(0) == "1" {
				s.state = "pause"
			} else {
				s.state = "play"
			}
		}
	case "stop":
		s.state, s.elapsed = "stop", 0
	case "next":
		if s.song+1 < len(s.queue) {
			s.song++
		} else {
			s.song, s.state = -1, "stop"
		}
		s.elapsed = 0
	case "previous":
		if s.song > 0 {
			s.song--
		}
		s.elapsed = 0
	case "random":
		s.random = arg(0) == "1"
	case "repeat":
		s.repeat = arg(0) == "1"
	case "single":
		s.single = arg(0) == "1"
	default:
		return "", fmt.Errorf("unknown command %q", name)
	}
	s.log = append(s.log, entry)
	return "", nil
}

func (s *fakeServer) statusLocked() string {
	flag := func(b bool) string {
		if b {
			return "1"
		}
		return "0"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "volume: -1\nrepeat: %s\nrandom: %s\nsingle: %s\nconsume: 0\n",
		flag(s.repeat), flag(s.random), flag(s.single))
	fmt.Fprintf(&b, "playlistlength: %d\nstate: %s\n", len(s.queue), s.state)
	if s.song >= 0 {
		fmt.Fprintf(&b, "song: %d\nelapsed: %.3f\nduration: 180.000\n", s.song, s.elapsed)
		if s.song+1 < len(s.queue) {
			fmt.Fprintf(&b, "nextsong: %d\n", s.song+1)
		}
	}
	return b.String()
}

func commandName(line string) string {
	name, _, _ := strings.Cut(line, " ")
	return name
}

// splitCommand splits a protocol line into its command and unquoted arguments.
func splitCommand(line string) (string, []string) {
	var fields []string
	var cur strings.Builder
	inQuote, escaped, pending := false, false, false
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && inQuote:
			escaped = true
		case r == '"':
			inQuote = !inQuote
			pending = true
		case r == ' ' && !inQuote:
			if pending || cur.Len() > 0 {
				fields = append(fields, cur.String())
				cur.Reset()
				pending = false
			}
		default:
			cur.WriteRune(r)
		}
	}
	if pending || cur.Len() > 0 {
		fields = append(fields, cur.String())
	}
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}
