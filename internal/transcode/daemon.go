package transcode

import (
	"encoding/json"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const (
	CommandsSubject = "recorder.commands"
	CommandsQueue   = "recorders"
)

// Dispatcher applies a command payload, see eventbus.Router
type Dispatcher interface {
	Dispatch(payload []byte) error
}

// Daemon receives recording commands from NATS. Recorders share the
// queue so every command is handled by one of them.
type Daemon struct {
	nc         *nats.Conn
	sub        *nats.Subscription
	dispatcher Dispatcher

	errors   chan error
	stop     chan struct{}
	stopOnce sync.Once
}

func New(natsAddr string, dispatcher Dispatcher) (*Daemon, error) {
	nc, err := nats.Connect(natsAddr, nats.NoEcho(), nats.Name("livelook-recorder"))
	if err != nil {
		return nil, err
	}

	return newDaemon(nc, dispatcher), nil
}

func newDaemon(nc *nats.Conn, dispatcher Dispatcher) *Daemon {
	return &Daemon{
		nc:         nc,
		dispatcher: dispatcher,
		errors:     make(chan error, 16),
		stop:       make(chan struct{}),
	}
}

// Run subscribes to commands and blocks until Stop is called
func (d *Daemon) Run() error {
	log.Info().Str("service", "commands").Msg("start commands daemon")

	var err error
	d.sub, err = d.nc.QueueSubscribe(CommandsSubject, CommandsQueue, func(msg *nats.Msg) {
		reply, err := d.handle(msg.Data)
		if err != nil {
			select {
			case d.errors <- err:
			default:
			}
		}

		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(reply); err != nil {
			log.Error().Err(err).Str("service", "commands").Msg("can't respond")
		}
	})
	if err != nil {
		return err
	}

	for {
		select {
		case err := <-d.errors:
			log.Error().Err(err).Str("service", "commands").Msg("")
		case <-d.stop:
			return d.shutdown()
		}
	}
}

func (d *Daemon) Stop() {
	d.stopOnce.Do(func() {
		close(d.stop)
	})
}

func (d *Daemon) shutdown() error {
	log.Info().Str("service", "commands").Msg("stop commands daemon")

	if err := d.sub.Unsubscribe(); err != nil {
		log.Error().Err(err).Str("service", "commands").Msg("can't unsubscribe")
	}

	return d.nc.Drain()
}

func (d *Daemon) handle(data []byte) ([]byte, error) {
	log.Debug().Str("service", "commands").Str("data", string(data)).Msg("received command")

	err := d.dispatcher.Dispatch(data)

	reply, marshalErr := json.Marshal(newReply(err))
	if marshalErr != nil {
		return nil, marshalErr
	}

	return reply, err
}
