package link

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"
	"golang.org/x/time/rate"

	"github.com/asterics/FLipMouse-esp32-sub001/internal/config"
)

// Link carries drained commands to the controller firmware over the
// UART. It keeps reopening the port until it sticks and paces writes
// so a burst cannot flood the controller's input buffer.
type Link struct {
	cfg        config.LinkConfig
	retryDelay time.Duration
	limiter    *rate.Limiter

	commandChan chan string

	mu   sync.Mutex
	port serial.Port
}

// New creates the link. Run must be started for commands to move.
func New(cfg config.LinkConfig) *Link {
	retryDelay, _ := time.ParseDuration(cfg.RetryDelay)
	if retryDelay <= 0 {
		retryDelay = 5 * time.Second
	}
	return &Link{
		cfg:         cfg,
		retryDelay:  retryDelay,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		commandChan: make(chan string, cfg.RateBurst*2),
	}
}

// Send hands one encoded command to the writer without blocking. A
// disabled link or a full write queue drops the command with a log
// line, matching the best-effort contract of the outbound queue.
func (l *Link) Send(cmd string) {
	if !l.cfg.Enabled {
		log.Printf("[Link] serial link disabled, dropping command: %s", cmd)
		return
	}
	select {
	case l.commandChan <- cmd:
	default:
		log.Printf("[Link] write queue full, dropping command: %s", cmd)
	}
}

// Run maintains the port and drains the write queue until the context
// is canceled.
func (l *Link) Run(ctx context.Context) {
	if !l.cfg.Enabled {
		log.Println("[Link] serial link disabled")
		return
	}
	log.Printf("[Link] using %s at %d baud", l.cfg.Device, l.cfg.BaudRate)

	for {
		if !l.connected() {
			if err := l.open(); err != nil {
				log.Printf("[Link] failed to open %s: %v, retrying in %s", l.cfg.Device, err, l.retryDelay)
				select {
				case <-ctx.Done():
					return
				case <-time.After(l.retryDelay):
					continue
				}
			}
			log.Printf("[Link] connected to %s", l.cfg.Device)
		}

		select {
		case <-ctx.Done():
			l.closePort()
			return
		case cmd := <-l.commandChan:
			if err := l.limiter.Wait(ctx); err != nil {
				l.closePort()
				return
			}
			if err := l.write(cmd); err != nil {
				log.Printf("[Link] write failed (assuming disconnected): %v", err)
				l.closePort()
			}
		}
	}
}

func (l *Link) open() error {
	port, err := serial.Open(l.cfg.Device, &serial.Mode{BaudRate: l.cfg.BaudRate})
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.port = port
	l.mu.Unlock()
	return nil
}

// write sends one command line. The firmware reads CR LF terminated
// commands.
func (l *Link) write(cmd string) error {
	l.mu.Lock()
	port := l.port
	l.mu.Unlock()
	if port == nil {
		return errors.New("port not open")
	}
	_, err := port.Write([]byte(cmd + "\r\n"))
	return err
}

func (l *Link) connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port != nil
}

func (l *Link) closePort() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port != nil {
		l.port.Close()
		l.port = nil
	}
}
