package models

// videoTransitions enumerates the legal lifecycle edges. Every state may
// additionally transition to Deleted; Deleted is terminal.
var videoTransitions = map[VideoStatus][]VideoStatus{
	StatusUploaded:           {StatusReadyForProcessing},
	StatusReadyForProcessing: {StatusWaitingInQueue},
	StatusWaitingInQueue:     {StatusWaitingInQueue, StatusProcessing},
	StatusProcessing:         {StatusWaitingInQueue, StatusReadyToPublish, StatusFailedInProcessing},
	StatusReadyToPublish:     {StatusPublished},
	StatusPublished:          {},
	StatusFailedInProcessing: {},
	StatusDeleted:            {},
}

// KnownStatus reports whether the value is one of the lifecycle states.
func KnownStatus(status VideoStatus) bool {
	_, ok := videoTransitions[status]
	return ok
}

// AllStatuses returns every lifecycle state in stable order.
func AllStatuses() []VideoStatus {
	return []VideoStatus{
		StatusUploaded,
		StatusReadyForProcessing,
		StatusWaitingInQueue,
		StatusProcessing,
		StatusReadyToPublish,
		StatusPublished,
		StatusFailedInProcessing,
		StatusDeleted,
	}
}

// CanTransition reports whether a video may move from one status to another.
func CanTransition(from, to VideoStatus) bool {
	if from == StatusDeleted {
		return false
	}
	if to == StatusDeleted {
		return KnownStatus(from)
	}
	for _, next := range videoTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
