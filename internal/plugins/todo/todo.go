// Package todo keeps the user's task list in SQLite and answers the
// voice commands that add, list and complete tasks. It is also the task
// source of the morning summary.
package todo

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/asistente/internal/plugin"
)

const (
	addPhrase      = "agrega a mi lista de tareas"
	completePhrase = "completa la tarea número"
)

var listPhrases = []string{"cuáles son mis tareas", "lista de tareas"}

// Task is one entry on the list.
type Task struct {
	ID          int64
	Description string
	Completed   bool
	CreatedAt   time.Time
}

// Settings are read from the manifest.
type Settings struct {
	// Path defaults to tasks.db in the data directory.
	Path string `yaml:"path"`
}

// List is a command handler and task lister.
type List struct {
	mu     sync.Mutex
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// New is the plugin factory.
func New(_ string, raw plugin.Settings, caps plugin.Capabilities) (any, error) {
	var s Settings
	if err := raw.Decode(&s); err != nil {
		return nil, err
	}
	if s.Path == "" {
		s.Path = filepath.Join(caps.DataDir, "tasks.db")
	}
	logger := caps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return Open(s.Path, logger)
}

// Open opens (or creates) the task database at path.
func Open(path string, logger *slog.Logger) (*List, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open tasks: %w", err)
	}
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		description TEXT NOT NULL,
		completed   INTEGER NOT NULL DEFAULT 0,
		created_at  TEXT NOT NULL,
		done_at     TEXT
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate tasks: %w", err)
	}
	return &List{db: db, logger: logger, now: time.Now}, nil
}

// Close closes the database.
func (l *List) Close() error {
	return l.db.Close()
}

// HandleCommand answers the task commands.
func (l *List) HandleCommand(ctx context.Context, text string) (string, error) {
	lower := strings.ToLower(text)
	if _, rest, ok := strings.Cut(lower, addPhrase); ok {
		return l.add(ctx, strings.TrimSpace(rest))
	}
	if _, rest, ok := strings.Cut(lower, completePhrase); ok {
		return l.complete(ctx, strings.TrimSpace(rest))
	}
	for _, p := range listPhrases {
		if strings.Contains(lower, p) {
			return l.TaskSummary(ctx)
		}
	}
	return "", nil
}

func (l *List) add(ctx context.Context, description string) (string, error) {
	if description == "" {
		return "No puedes agregar una tarea vacía.", nil
	}
	if err := l.Add(ctx, description); err != nil {
		return "", err
	}
	return fmt.Sprintf("Tarea añadida: '%s'", description), nil
}

func (l *List) complete(ctx context.Context, number string) (string, error) {
	n, err := strconv.Atoi(strings.Trim(number, " .?!"))
	if err != nil {
		return "Por favor, di un número de tarea válido.", nil
	}
	task, ok, err := l.Complete(ctx, n)
	if err != nil {
		return "", err
	}
	if !ok {
		return "Número de tarea inválido.", nil
	}
	return fmt.Sprintf("Tarea '%s' marcada como completada.", task.Description), nil
}

// TaskSummary lists the pending tasks as one sentence.
func (l *List) TaskSummary(ctx context.Context) (string, error) {
	tasks, err := l.Pending(ctx)
	if err != nil {
		return "", err
	}
	if len(tasks) == 0 {
		return "No tienes tareas pendientes.", nil
	}
	items := make([]string, len(tasks))
	for i, t := range tasks {
		items[i] = fmt.Sprintf("%d. %s", i+1, t.Description)
	}
	return "Tus tareas pendientes son: " + strings.Join(items, ", ") + ".", nil
}

// Add appends a pending task.
func (l *List) Add(ctx context.Context, description string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO tasks (description, created_at) VALUES (?, ?)`,
		description, l.now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("add task: %w", err)
	}
	l.logger.Info("task added", "description", description)
	return nil
}

// Pending returns the open tasks in creation order.
func (l *List) Pending(ctx context.Context) ([]Task, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending(ctx)
}

func (l *List) pending(ctx context.Context) ([]Task, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, description, created_at FROM tasks WHERE completed = 0 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		var created string
		if err := rows.Scan(&t.ID, &t.Description, &created); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339, created)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Complete marks the n-th pending task (1-based) done. ok is false when
// n is out of range.
func (l *List) Complete(ctx context.Context, n int) (Task, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tasks, err := l.pending(ctx)
	if err != nil {
		return Task{}, false, err
	}
	if n < 1 || n > len(tasks) {
		return Task{}, false, nil
	}
	task := tasks[n-1]
	if _, err := l.db.ExecContext(ctx,
		`UPDATE tasks SET completed = 1, done_at = ? WHERE id = ?`,
		l.now().UTC().Format(time.RFC3339), task.ID); err != nil {
		return Task{}, false, fmt.Errorf("complete task: %w", err)
	}
	task.Completed = true
	l.logger.Info("task completed", "id", task.ID)
	return task, true, nil
}
