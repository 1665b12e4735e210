package scheduler

import (
	"encoding/json"
	"log"
	"os"
	"sync"

	"github.com/asterics/FLipMouse-esp32-sub001/internal/core"

	"github.com/robfig/cron/v3"
)

// Entry defines a single scheduled firmware command.
type Entry struct {
	Spec      string `json:"spec"`
	Command   string `json:"command"`
	Parameter string `json:"parameter,omitempty"`
}

// Scheduler manages all cron-related tasks.
type Scheduler struct {
	cron          *cron.Cron
	queue         *core.CommandQueue
	mu            sync.RWMutex
	entries       map[cron.EntryID]Entry
	schedulesFile string
}

// NewScheduler creates a scheduler and loads the schedules file.
func NewScheduler(queue *core.CommandQueue, schedulesFile string) *Scheduler {
	s := &Scheduler{
		cron:          cron.New(),
		queue:         queue,
		entries:       make(map[cron.EntryID]Entry),
		schedulesFile: schedulesFile,
	}
	s.load()
	return s
}

// Start begins the cron job ticker.
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Println("Cron scheduler started.")
}

// Stop halts the cron job ticker.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Cron scheduler stopped.")
}

// GetAll returns a copy of the loaded schedules in a thread-safe way.
func (s *Scheduler) GetAll() map[cron.EntryID]Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	newMap := make(map[cron.EntryID]Entry)
	for k, v := range s.entries {
		newMap[k] = v
	}
	return newMap
}

func (s *Scheduler) execute(entry Entry) {
	cmd, err := core.Encode(entry.Command, entry.Parameter)
	if err != nil {
		log.Printf("Error encoding scheduled command '%s': %v", entry.Command, err)
		return
	}
	if cmd == "" {
		return
	}
	log.Printf("Executing scheduled command: %s", cmd)
	s.queue.TryPush(cmd)
}

func (s *Scheduler) load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.schedulesFile); os.IsNotExist(err) {
		return
	}
	data, err := os.ReadFile(s.schedulesFile)
	if err != nil {
		log.Printf("Error reading schedule file: %v", err)
		return
	}

	var loaded []Entry
	if err := json.Unmarshal(data, &loaded); err != nil {
		log.Printf("Error unmarshalling schedule file: %v", err)
		return
	}

	log.Printf("Loading %d schedules from file '%s'...", len(loaded), s.schedulesFile)
	for _, entry := range loaded {
		jobEntry := entry
		id, err := s.cron.AddFunc(jobEntry.Spec, func() { s.execute(jobEntry) })
		if err != nil {
			log.Printf("Error adding schedule '%s': %v", jobEntry.Spec, err)
			continue
		}
		s.entries[id] = jobEntry
	}
}
