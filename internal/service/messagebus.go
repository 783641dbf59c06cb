// internal/service/messagebus.go
package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Bruna557/python-patterns/internal/domain"
	"github.com/Bruna557/python-patterns/internal/port"
)

var (
	// ErrUnhandledCommand means a command reached the bus with no
	// registered handler. That is a wiring bug, never recoverable.
	ErrUnhandledCommand = errors.New("no handler registered for command")

	// ErrCascadeOverflow means an event cascade exceeded the defensive
	// iteration limit, which points at a handler re-emitting its own
	// trigger.
	ErrCascadeOverflow = errors.New("message cascade exceeded limit")
)

// maxCascade bounds how many messages one Handle call may process.
// Cascades are expected to be short; hitting this limit means a handler
// loop, so the bus stops instead of spinning forever.
const maxCascade = 1000

// CommandHandler serves exactly one command type and may return a
// result for the caller.
type CommandHandler func(ctx context.Context, cmd domain.Command, uow port.UnitOfWork) (any, error)

// EventHandler carries a name so failures can be logged against the
// handler that raised them.
type EventHandler struct {
	Name   string
	Handle func(ctx context.Context, event domain.Event, uow port.UnitOfWork) error
}

// MessageBus routes commands to their single handler (fail fast) and
// events to every registered handler (fault isolated), processing the
// cascade of new events each handler's unit-of-work activity raises.
type MessageBus struct {
	commandHandlers map[string]CommandHandler
	eventHandlers   map[string][]EventHandler
	logger          *zap.Logger
	tracer          trace.Tracer
}

func NewMessageBus(
	logger *zap.Logger,
	commandHandlers map[string]CommandHandler,
	eventHandlers map[string][]EventHandler,
) *MessageBus {
	return &MessageBus{
		commandHandlers: commandHandlers,
		eventHandlers:   eventHandlers,
		logger:          logger,
		tracer:          otel.Tracer("allocation/messagebus"),
	}
}

// Handle processes a message and everything it cascades into within one
// unit of work, returning the results of every command handled, in
// completion order. Command handler failures abort the run; event
// handler failures are logged and swallowed.
func (b *MessageBus) Handle(ctx context.Context, message domain.Message, uow port.UnitOfWork) ([]any, error) {
	ctx, span := b.tracer.Start(ctx, "messagebus.handle")
	defer span.End()

	var results []any
	queue := []domain.Message{message}

	for processed := 0; len(queue) > 0; processed++ {
		if processed >= maxCascade {
			return results, fmt.Errorf("%w after %d messages", ErrCascadeOverflow, processed)
		}

		head := queue[0]
		queue = queue[1:]

		switch m := head.(type) {
		case domain.Event:
			queue = append(queue, b.handleEvent(ctx, m, uow)...)
		case domain.Command:
			result, raised, err := b.handleCommand(ctx, m, uow)
			if err != nil {
				return nil, err
			}
			results = append(results, result)
			queue = append(queue, raised...)
		default:
			return nil, fmt.Errorf("message %T is neither a command nor an event", head)
		}
	}

	span.SetAttributes(attribute.Int("messages.processed", len(results)))
	return results, nil
}

func (b *MessageBus) handleEvent(ctx context.Context, event domain.Event, uow port.UnitOfWork) []domain.Message {
	ctx, span := b.tracer.Start(ctx, "messagebus.handle_event",
		trace.WithAttributes(attribute.String("event.name", event.EventName())),
	)
	defer span.End()

	var raised []domain.Message
	for _, handler := range b.eventHandlers[event.EventName()] {
		b.logger.Debug("handling event",
			zap.String("event", event.EventName()),
			zap.String("handler", handler.Name),
		)
		if err := handler.Handle(ctx, event, uow); err != nil {
			// One failed side effect must not block the others.
			b.logger.Error("event handler failed",
				zap.String("event", event.EventName()),
				zap.String("handler", handler.Name),
				zap.Error(err),
			)
			continue
		}
		raised = append(raised, collect(uow)...)
	}
	return raised
}

func (b *MessageBus) handleCommand(ctx context.Context, cmd domain.Command, uow port.UnitOfWork) (any, []domain.Message, error) {
	ctx, span := b.tracer.Start(ctx, "messagebus.handle_command",
		trace.WithAttributes(attribute.String("command.name", cmd.CommandName())),
	)
	defer span.End()

	handler, ok := b.commandHandlers[cmd.CommandName()]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnhandledCommand, cmd.CommandName())
	}

	b.logger.Debug("handling command", zap.String("command", cmd.CommandName()))
	result, err := handler(ctx, cmd, uow)
	if err != nil {
		b.logger.Error("command handler failed",
			zap.String("command", cmd.CommandName()),
			zap.Error(err),
		)
		return nil, nil, err
	}
	return result, collect(uow), nil
}

func collect(uow port.UnitOfWork) []domain.Message {
	events := uow.CollectNewEvents()
	messages := make([]domain.Message, 0, len(events))
	for _, event := range events {
		messages = append(messages, event)
	}
	return messages
}
