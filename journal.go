package callcache

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Operation is the call shape the journal and memoizer decorate.
type Operation[R any] func(ctx context.Context, args ...any) (R, error)

// JournalConfig controls how a Journal records calls.
type JournalConfig struct {
	// SerializeCalls holds a per-operation lock across the input append, the call
	// and the output append so concurrent callers cannot break positional pairing.
	SerializeCalls bool
	Logger         *slog.Logger
	Observer       Observer
}

// JournalOption mutates JournalConfig when constructing a journal.
type JournalOption func(JournalConfig) JournalConfig

// WithSerializedCalls toggles strict input/output pairing under concurrency.
func WithSerializedCalls(enabled bool) JournalOption {
	return func(cfg JournalConfig) JournalConfig {
		cfg.SerializeCalls = enabled
		return cfg
	}
}

// WithJournalLogger sets the logger used for journal write failures.
func WithJournalLogger(logger *slog.Logger) JournalOption {
	return func(cfg JournalConfig) JournalConfig {
		cfg.Logger = logger
		return cfg
	}
}

// WithJournalObserver attaches an observer to journal operations.
func WithJournalObserver(o Observer) JournalOption {
	return func(cfg JournalConfig) JournalConfig {
		cfg.Observer = o
		return cfg
	}
}

// Journal appends the arguments and results of decorated operations to two
// backend lists per operation, <name>:inputs and <name>:outputs, and replays them.
//
// Without SerializeCalls, concurrent invocations of the same operation may
// interleave around the call itself, so input i and output i are only
// guaranteed to belong together for sequential callers.
type Journal struct {
	backend   Backend
	serialize bool
	logger    *slog.Logger
	observer  Observer

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// CallRecord is one replayed call. Args is nil when the stored input could not
// be decoded; RawInput always holds the stored bytes.
type CallRecord struct {
	Operation string
	Index     int
	Args      Args
	RawInput  []byte
	Output    []byte
}

// String renders the record as "<operation>(<args>) -> <result>".
func (r CallRecord) String() string {
	args := string(r.RawInput)
	if r.Args != nil {
		args = r.Args.String()
	}
	return fmt.Sprintf("%s(%s) -> %s", r.Operation, args, r.Output)
}

// NewJournal creates a journal writing to backend.
// @group Journal
//
// Example: record and replay
//
//	ctx := context.Background()
//	j := callcache.NewJournal(callcache.NewMemoryBackend(ctx))
//	greet := callcache.Record(j, "greet", func(ctx context.Context, args ...any) (string, error) {
//		return "hello " + args[0].(string), nil
//	})
//	_, _ = greet(ctx, "ada")
//	lines, _ := j.Replay(ctx, "greet")
//	for line := range lines {
//		fmt.Println(line) // greet("ada") -> hello ada
//	}
func NewJournal(backend Backend, opts ...JournalOption) *Journal {
	var cfg JournalConfig
	for _, opt := range opts {
		cfg = opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Journal{
		backend:   backend,
		serialize: cfg.SerializeCalls,
		logger:    cfg.Logger,
		observer:  cfg.Observer,
		locks:     make(map[string]*sync.Mutex),
	}
}

// InputsKey is the list holding encoded arguments for operation name.
func InputsKey(name string) string { return name + ":inputs" }

// OutputsKey is the list holding encoded results for operation name.
func OutputsKey(name string) string { return name + ":outputs" }

// Record decorates op so every call appends its arguments to InputsKey(name)
// before running and its result to OutputsKey(name) after a successful run.
// A failing op leaves an input without a matching output.
//
// An output append failure is returned together with the result, which the
// operation already produced.
// @group Journal
func Record[R any](j *Journal, name string, op Operation[R]) Operation[R] {
	return func(ctx context.Context, args ...any) (R, error) {
		var zero R
		if name == "" {
			return zero, ErrOperationName
		}
		start := time.Now()
		encoded, err := EncodeArgs(args...)
		if err != nil {
			return zero, err
		}
		input, err := MarshalArgs(encoded)
		if err != nil {
			return zero, err
		}

		if j.serialize {
			lock := j.lockFor(name)
			lock.Lock()
			defer lock.Unlock()
		}

		if _, err := j.backend.RPush(ctx, InputsKey(name), input); err != nil {
			observe(ctx, j.observer, "record", name, false, err, start, j.backend.Driver())
			return zero, fmt.Errorf("journal input for %s: %w", name, err)
		}
		result, err := op(ctx, args...)
		if err != nil {
			observe(ctx, j.observer, "record", name, false, err, start, j.backend.Driver())
			return zero, err
		}
		output, err := EncodeValue(result)
		if err == nil {
			_, err = j.backend.RPush(ctx, OutputsKey(name), output)
		}
		if err != nil {
			j.logger.Error("callcache: journal output append failed", "operation", name, "error", err)
			observe(ctx, j.observer, "record", name, false, err, start, j.backend.Driver())
			return result, fmt.Errorf("journal output for %s: %w", name, err)
		}
		observe(ctx, j.observer, "record", name, true, nil, start, j.backend.Driver())
		return result, nil
	}
}

// CountCalls decorates op so every call increments the counter at key name
// before running. It journals nothing and composes with Record.
// @group Journal
func CountCalls[R any](j *Journal, name string, op Operation[R]) Operation[R] {
	return func(ctx context.Context, args ...any) (R, error) {
		var zero R
		if name == "" {
			return zero, ErrOperationName
		}
		start := time.Now()
		_, err := j.backend.Incr(ctx, name)
		observe(ctx, j.observer, "count_calls", name, err == nil, err, start, j.backend.Driver())
		if err != nil {
			return zero, fmt.Errorf("count calls for %s: %w", name, err)
		}
		return op(ctx, args...)
	}
}

// Calls returns the counter maintained by CountCalls for name; zero when unset.
func (j *Journal) Calls(ctx context.Context, name string) (int64, error) {
	body, ok, err := j.backend.Get(ctx, name)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseInt(string(body), 10, 64)
	if err != nil {
		return 0, &DecodeError{Key: name, Type: "int64", Err: err}
	}
	return n, nil
}

// Inputs returns the raw stored inputs for name, oldest first.
func (j *Journal) Inputs(ctx context.Context, name string) ([][]byte, error) {
	return j.backend.LRange(ctx, InputsKey(name), 0, -1)
}

// Outputs returns the raw stored outputs for name, oldest first.
func (j *Journal) Outputs(ctx context.Context, name string) ([][]byte, error) {
	return j.backend.LRange(ctx, OutputsKey(name), 0, -1)
}

// History pairs inputs and outputs by position. When the lists differ in
// length only the shorter prefix is returned.
// @group Journal
func (j *Journal) History(ctx context.Context, name string) ([]CallRecord, error) {
	start := time.Now()
	inputs, err := j.Inputs(ctx, name)
	if err != nil {
		observe(ctx, j.observer, "replay", name, false, err, start, j.backend.Driver())
		return nil, err
	}
	outputs, err := j.Outputs(ctx, name)
	if err != nil {
		observe(ctx, j.observer, "replay", name, false, err, start, j.backend.Driver())
		return nil, err
	}
	n := min(len(inputs), len(outputs))
	if len(inputs) != len(outputs) {
		j.logger.Debug("callcache: journal lists differ in length",
			"operation", name, "inputs", len(inputs), "outputs", len(outputs))
	}
	records := make([]CallRecord, 0, n)
	for i := 0; i < n; i++ {
		record := CallRecord{
			Operation: name,
			Index:     i,
			RawInput:  inputs[i],
			Output:    outputs[i],
		}
		// Inputs written by other tools are shown verbatim.
		if args, err := UnmarshalArgs(inputs[i]); err == nil {
			record.Args = args
		}
		records = append(records, record)
	}
	observe(ctx, j.observer, "replay", name, n > 0, nil, start, j.backend.Driver())
	return records, nil
}

// Replay yields one "<name>(<args>) -> <result>" line per recorded call,
// oldest first. Both lists are read up front; lines are rendered lazily.
// @group Journal
func (j *Journal) Replay(ctx context.Context, name string) (iter.Seq[string], error) {
	records, err := j.History(ctx, name)
	if err != nil {
		return nil, err
	}
	return func(yield func(string) bool) {
		for _, record := range records {
			if !yield(record.String()) {
				return
			}
		}
	}, nil
}

func (j *Journal) lockFor(name string) *sync.Mutex {
	j.mu.Lock()
	defer j.mu.Unlock()
	lock, ok := j.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		j.locks[name] = lock
	}
	return lock
}
