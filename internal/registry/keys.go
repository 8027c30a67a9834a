package registry

import (
	"github.com/nfrund/scriptrt/internal/pubsub"
	"github.com/nfrund/scriptrt/internal/script"
)

// Service keys for the script runtime. Using constants prevents typos.
const (
	MetadataKey      Key[*script.Metadata]      = "script.metadata"
	InstancesKey     Key[*script.Instances]     = "script.instances"
	DispatcherKey    Key[*script.Dispatcher]    = "script.dispatcher"
	CoordinatorKey   Key[*script.Coordinator]   = "script.coordinator"
	ErrorReporterKey Key[*script.ErrorReporter] = "script.error_reporter"
	PublisherKey     Key[pubsub.Publisher]      = "pubsub.publisher"
	SubscriberKey    Key[pubsub.Subscriber]     = "pubsub.subscriber"
)
