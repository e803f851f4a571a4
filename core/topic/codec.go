// Package topic parses and validates the transport topics used by cars:
// <namespace>/<carID>/<subtopic>.
package topic

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// DefaultNamespace is the first topic segment when none is configured.
const DefaultNamespace = "car"

// StatsSubtopic marks a full-state update, like a topic with no subtopic.
const StatsSubtopic = "stats"

var (
	// ErrTopicShape is returned for topics that do not have the expected segments.
	ErrTopicShape = errors.New("invalid topic shape")
	// ErrDisallowedAction is returned when a command targets an action outside
	// the allow-list.
	ErrDisallowedAction = errors.New("action not allowed")
)

// AllowedActions lists the command actions that may be published.
var AllowedActions = []string{"lock", "lights", "climate", "heating"}

var segment = `[a-zA-Z0-9-]+`

// Address is the decoded form of an inbound topic.
type Address struct {
	CarID    string
	Subtopic string
}

// FullUpdate reports whether the payload carries a whole state rather than a
// single field.
func (a Address) FullUpdate() bool {
	return a.Subtopic == "" || a.Subtopic == StatsSubtopic
}

// Command is a validated command topic.
type Command struct {
	CarID  string
	Action string
}

// Codec is bound to one namespace. The zero value is not usable; use New.
type Codec struct {
	namespace string
	command   *regexp.Regexp
}

// New returns a Codec for ns, falling back to DefaultNamespace when empty.
func New(ns string) *Codec {
	ns = strings.Trim(ns, "/")
	if ns == "" {
		ns = DefaultNamespace
	}
	return &Codec{
		namespace: ns,
		command:   regexp.MustCompile(`^` + regexp.QuoteMeta(ns) + `/(` + segment + `)/(` + segment + `)$`),
	}
}

// Namespace returns the configured prefix.
func (c *Codec) Namespace() string { return c.namespace }

// Parse splits an inbound topic. The namespace segment must be present but its
// value is not checked.
func (c *Codec) Parse(topic string) (Address, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Address{}, fmt.Errorf("%w: %q", ErrTopicShape, topic)
	}
	return Address{CarID: parts[1], Subtopic: strings.Join(parts[2:], "/")}, nil
}

// ValidateCommandTopic checks the strict <ns>/<id>/<action> shape and the
// action allow-list.
func (c *Codec) ValidateCommandTopic(topic string) (Command, error) {
	m := c.command.FindStringSubmatch(topic)
	if m == nil {
		return Command{}, fmt.Errorf("%w: expected format %s/{carId}/{action}", ErrTopicShape, c.namespace)
	}
	if !IsAllowedAction(m[2]) {
		return Command{CarID: m[1], Action: m[2]}, fmt.Errorf("%w: action '%s' is not allowed", ErrDisallowedAction, m[2])
	}
	return Command{CarID: m[1], Action: m[2]}, nil
}

// CommandTopic builds the publish topic for an action on a car.
func (c *Codec) CommandTopic(carID, action string) string {
	return c.namespace + "/" + carID + "/" + action
}

// StatsEvent is the name of the scoped real-time event for a car.
func (c *Codec) StatsEvent(carID string) string {
	return c.namespace + "/" + carID + "/" + StatsSubtopic
}

// Wildcard is the subscription filter covering every car topic.
func (c *Codec) Wildcard() string {
	return c.namespace + "/#"
}

// IsAllowedAction reports whether action is in AllowedActions.
func IsAllowedAction(action string) bool {
	for _, a := range AllowedActions {
		if a == action {
			return true
		}
	}
	return false
}
