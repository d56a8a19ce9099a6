package obsws

// EventSubscription is the bitmask of event categories a session wants to
// receive. It is sent in Identify and can be changed later with Reidentify.
type EventSubscription uint32

const (
	// SubNone disables all events.
	SubNone EventSubscription = 0
	// SubGeneral subscribes to events in the General category.
	SubGeneral EventSubscription = 1 << 0
	// SubConfig subscribes to events in the Config category.
	SubConfig EventSubscription = 1 << 1
	// SubScenes subscribes to events in the Scenes category.
	SubScenes EventSubscription = 1 << 2
	// SubInputs subscribes to events in the Inputs category.
	SubInputs EventSubscription = 1 << 3
	// SubTransitions subscribes to events in the Transitions category.
	SubTransitions EventSubscription = 1 << 4
	// SubFilters subscribes to events in the Filters category.
	SubFilters EventSubscription = 1 << 5
	// SubOutputs subscribes to events in the Outputs category.
	SubOutputs EventSubscription = 1 << 6
	// SubSceneItems subscribes to events in the SceneItems category.
	SubSceneItems EventSubscription = 1 << 7
	// SubMediaInputs subscribes to events in the MediaInputs category.
	SubMediaInputs EventSubscription = 1 << 8
	// SubVendors subscribes to VendorEvent events.
	SubVendors EventSubscription = 1 << 9
	// SubUI subscribes to events in the Ui category.
	SubUI EventSubscription = 1 << 10

	// SubAll covers every non-high-volume category.
	SubAll = SubGeneral | SubConfig | SubScenes | SubInputs | SubTransitions |
		SubFilters | SubOutputs | SubSceneItems | SubMediaInputs | SubVendors | SubUI

	// High-volume events, never part of SubAll; subscribe explicitly.

	// SubInputVolumeMeters subscribes to the InputVolumeMeters event.
	SubInputVolumeMeters EventSubscription = 1 << 16
	// SubInputActiveStateChanged subscribes to the InputActiveStateChanged event.
	SubInputActiveStateChanged EventSubscription = 1 << 17
	// SubInputShowStateChanged subscribes to the InputShowStateChanged event.
	SubInputShowStateChanged EventSubscription = 1 << 18
	// SubSceneItemTransformChanged subscribes to the SceneItemTransformChanged event.
	SubSceneItemTransformChanged EventSubscription = 1 << 19
)
