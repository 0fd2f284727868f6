// Package daemon wires the fugue daemon together: state directory
// layout, crash recovery, the Unix-socket (and optional loopback)
// listeners, per-connection client handling, the periodic checkpoint
// loop, and clean shutdown. Listener bootstrap probes a stale socket
// before removing it so a live daemon is never clobbered.
package daemon

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"fugue/internal/activitylog"
	"fugue/internal/arbitrator"
	"fugue/internal/clientreg"
	"fugue/internal/config"
	"fugue/internal/dispatcher"
	"fugue/internal/router"
	"fugue/internal/socketdir"
	"fugue/internal/store"
	"fugue/internal/walog"
)

const (
	walFlushInterval    = time.Second
	scrollbackTailLines = 500
	checkpointsToKeep   = 2
	shutdownKillTimeout = 3 * time.Second
)

// Daemon owns the full server lifecycle for one state directory.
type Daemon struct {
	StateDir string
	Cfg      *config.Config

	st   *store.Store
	reg  *clientreg.Registry
	rt   *router.Router
	arb  *arbitrator.Arbitrator
	wal  *walog.WAL
	disp *dispatcher.Dispatcher
	alog *activitylog.Logger

	listeners []net.Listener
	ckptID    uint64

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a Daemon for stateDir with the given config.
func New(stateDir string, cfg *config.Config) *Daemon {
	return &Daemon{
		StateDir: stateDir,
		Cfg:      cfg,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (d *Daemon) walDir() string        { return filepath.Join(d.StateDir, "wal") }
func (d *Daemon) checkpointDir() string { return filepath.Join(d.StateDir, "checkpoints") }

// Run starts the daemon and blocks until Stop is called or a listener
// fails fatally. The listener is open before Run returns control to the
// accept loops, so no early client request is ever refused by a
// half-started daemon.
func (d *Daemon) Run() error {
	defer close(d.done)

	for _, sub := range []string{"wal", "checkpoints", "sessions", "sockets"} {
		if err := os.MkdirAll(filepath.Join(d.StateDir, sub), 0o700); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}
	removeStaleTempFiles(d.StateDir)

	d.st = store.New()
	d.reg = clientreg.New(0)
	d.arb = arbitrator.New(
		time.Duration(d.Cfg.InputLockoutSeconds*float64(time.Second)),
		time.Duration(d.Cfg.LayoutLockoutSeconds*float64(time.Second)),
	)
	d.rt = router.New(d.st, 0, func(msg string) {
		log.Printf("warning: %s", msg)
	})
	d.alog = activitylog.New(true, filepath.Join(d.StateDir, "activity.jsonl"), "daemon", "")

	// Recovery: latest checkpoint, then WAL replay past its floor.
	recovered, floor, err := d.recover()
	if err != nil {
		return fmt.Errorf("recover state: %w", err)
	}

	wal, err := walog.Open(d.walDir(), floor, walFlushInterval)
	if err != nil {
		return fmt.Errorf("open wal: %w", err)
	}
	d.wal = wal

	ckptID, err := walog.NextCheckpointID(d.checkpointDir())
	if err != nil {
		return fmt.Errorf("scan checkpoints: %w", err)
	}
	d.ckptID = ckptID

	d.disp = dispatcher.New(dispatcher.Deps{
		Store:   d.st,
		Reg:     d.reg,
		Router:  d.rt,
		Arb:     d.arb,
		WAL:     d.wal,
		Cfg:     d.Cfg,
		Log:     d.alog,
		BaseEnv: os.Environ(),
	})
	d.reg.OnSlowConsumer(d.disp.OnSlowConsumer)
	for _, p := range recovered.respawned {
		d.disp.StartPump(p)
	}
	if n := len(recovered.sessions); n > 0 {
		log.Printf("recovered %d session(s), %d pane(s) respawned, %d inactive",
			n, len(recovered.respawned), recovered.inactive)
	}

	sockPath := socketdir.PathIn(d.StateDir)
	unixLn, err := listenUnix(sockPath)
	if err != nil {
		return err
	}
	d.listeners = append(d.listeners, unixLn)
	defer func() {
		unixLn.Close()
		os.Remove(sockPath)
	}()

	if addr := d.Cfg.NetworkListen; addr != "" {
		if !isLoopback(addr) {
			return fmt.Errorf("network_listen %q is not a loopback address; refusing to bind", addr)
		}
		tcpLn, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		d.listeners = append(d.listeners, tcpLn)
		defer tcpLn.Close()
	}

	for _, ln := range d.listeners {
		go d.acceptLoop(ln)
	}

	go d.checkpointLoop()

	pidPath := filepath.Join(d.StateDir, "fugued.pid")
	os.WriteFile(pidPath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
	defer os.Remove(pidPath)

	d.writeRecoveryHint()
	log.Printf("fugued listening on %s", sockPath)

	<-d.stop
	return d.shutdown()
}

// Stop requests a clean shutdown and returns once Run has finished it.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
	<-d.done
}

// shutdown drives the clean-exit sequence: stop accepting, kill panes,
// write a final checkpoint, then flush and close the WAL. The WAL close
// deliberately emits no checkpoint marker of its own - durability
// finalization and checkpointing are distinct operations.
func (d *Daemon) shutdown() error {
	for _, ln := range d.listeners {
		ln.Close()
	}
	d.disp.StopAll()

	var kills sync.WaitGroup
	d.st.View(func(tx *store.Tx) {
		for _, s := range tx.ListSessions() {
			for _, winID := range s.Windows() {
				w, err := s.Window(winID)
				if err != nil {
					continue
				}
				for _, pid := range w.ListPanes() {
					p, err := tx.Pane(pid)
					if err != nil {
						continue
					}
					kills.Add(1)
					go func() {
						defer kills.Done()
						p.Kill(shutdownKillTimeout)
					}()
				}
			}
		}
	})
	kills.Wait()

	if err := d.checkpoint(); err != nil {
		log.Printf("warning: final checkpoint failed: %v", err)
	}
	if err := d.wal.Close(); err != nil {
		log.Printf("warning: close wal: %v", err)
	}
	return d.alog.Close()
}

// listenUnix probes an existing socket for a live daemon before
// replacing it, so a crashed daemon's stale socket never blocks restart
// but a running daemon is never clobbered.
func listenUnix(sockPath string) (net.Listener, error) {
	if _, err := os.Stat(sockPath); err == nil {
		conn, err := net.DialTimeout("unix", sockPath, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil, fmt.Errorf("a fugue daemon is already running on %s", sockPath)
		}
		os.Remove(sockPath)
	}
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}
	os.Chmod(sockPath, 0o600)
	return ln, nil
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// checkpointLoop snapshots topology periodically. Failures log and
// retry on the next interval; they never block request handling.
func (d *Daemon) checkpointLoop() {
	interval := time.Duration(d.Cfg.CheckpointIntervalSeconds * float64(time.Second))
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := d.checkpoint(); err != nil {
				log.Printf("warning: checkpoint failed (will retry next interval): %v", err)
			}
		case <-d.stop:
			return
		}
	}
}

// checkpoint captures the WAL floor before snapshotting, so a mutation
// racing the snapshot is at worst present in both the checkpoint and
// the replayed records - the replay path tolerates re-application - and
// never in neither. The checkpoint file itself is only advertised (via
// the atomic "current" pointer rename inside WriteCheckpoint) once
// durably written; nothing else ever claims checkpoint completion.
func (d *Daemon) checkpoint() error {
	floor := d.wal.Seq()
	topo := d.st.Snapshot(scrollbackTailLines)
	data, err := json.Marshal(topo)
	if err != nil {
		return err
	}
	ckpt := walog.Checkpoint{
		ID:           d.ckptID,
		WALFloor:     floor,
		CreatedAt:    time.Now().UTC(),
		SessionCount: len(topo.Sessions),
		Topology:     data,
	}
	if err := walog.WriteCheckpoint(d.checkpointDir(), ckpt, checkpointsToKeep); err != nil {
		return err
	}
	d.ckptID++
	d.alog.CheckpointWritten(fmt.Sprintf("checkpoint-%08d", ckpt.ID), floor, ckpt.SessionCount)
	d.wal.PruneBelow(floor)
	d.writeRecoveryHint()
	return nil
}

// writeRecoveryHint refreshes last_session.json, the fast-path hint
// external tools read to find the most recent daemon state without
// parsing checkpoints. Best-effort.
func (d *Daemon) writeRecoveryHint() {
	hint := struct {
		CheckpointID uint64 `json:"checkpoint_id"`
		WALSeq       uint64 `json:"wal_seq"`
		WrittenAt    string `json:"written_at"`
	}{
		CheckpointID: d.ckptID,
		WALSeq:       d.wal.Seq(),
		WrittenAt:    time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(hint)
	if err != nil {
		return
	}
	path := filepath.Join(d.StateDir, "last_session.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return
	}
	os.Rename(tmp, path)
}

// removeStaleTempFiles clears *.tmp leftovers from a crash mid-write,
// per the atomic-write contract: a temp file that never got renamed is
// garbage by definition.
func removeStaleTempFiles(stateDir string) {
	for _, dir := range []string{stateDir, filepath.Join(stateDir, "checkpoints"), filepath.Join(stateDir, "wal")} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if strings.HasSuffix(e.Name(), ".tmp") {
				os.Remove(filepath.Join(dir, e.Name()))
			}
		}
	}
}
