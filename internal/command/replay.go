package command

import (
	"context"

	"github.com/funnyzak/replaytap/internal/replay"
	"github.com/funnyzak/replaytap/pkg/flow"
)

// Command names.
const (
	ReplayClient      = "replay.client"
	ReplayClientFile  = "replay.client.file"
	ReplayClientCount = "replay.client.count"
	ReplayClientStop  = "replay.client.stop"
	EventStoreClear   = "eventstore.clear"
)

// Playback is the subset of the replay engine driven by commands.
type Playback interface {
	StartReplay(flows []*flow.Flow)
	StopReplay()
	Count() int
	LoadFile(path string) error
}

// FlowLookup resolves flow IDs known to the service.
type FlowLookup interface {
	Flow(id string) (*flow.Flow, bool)
}

// Clearer empties the event store.
type Clearer interface {
	Clear()
}

// RegisterReplay installs the client replay commands.
func RegisterReplay(r *Registry, p Playback, flows FlowLookup) {
	r.Register(Command{
		Name:     ReplayClient,
		Help:     "Replay requests from flows.",
		Variadic: true,
		Args:     []string{"flow"},
	}, func(_ context.Context, args []string) (interface{}, error) {
		resolved := make([]*flow.Flow, 0, len(args))
		for _, id := range args {
			f, ok := flows.Flow(id)
			if !ok {
				return nil, &replay.CommandError{Msg: "Unknown flow " + id}
			}
			resolved = append(resolved, f)
		}
		p.StartReplay(resolved)
		return map[string]int{"count": p.Count()}, nil
	})

	r.Register(Command{
		Name: ReplayClientFile,
		Help: "Load flows from file, and add them to the replay queue.",
		Args: []string{"path"},
	}, func(_ context.Context, args []string) (interface{}, error) {
		if err := p.LoadFile(args[0]); err != nil {
			return nil, err
		}
		return map[string]int{"count": p.Count()}, nil
	})

	r.Register(Command{
		Name: ReplayClientCount,
		Help: "Approximate number of flows queued for replay.",
	}, func(context.Context, []string) (interface{}, error) {
		return map[string]int{"count": p.Count()}, nil
	})

	r.Register(Command{
		Name: ReplayClientStop,
		Help: "Clear the replay queue.",
	}, func(context.Context, []string) (interface{}, error) {
		p.StopReplay()
		return map[string]int{"count": p.Count()}, nil
	})
}

// RegisterEvents installs eventstore.clear.
func RegisterEvents(r *Registry, events Clearer) {
	r.Register(Command{
		Name: EventStoreClear,
		Help: "Clear the event log.",
	}, func(context.Context, []string) (interface{}, error) {
		events.Clear()
		return nil, nil
	})
}
