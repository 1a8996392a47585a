package storage

import "errors"

var (
	// ErrVideoNotFound is returned when the requested video does not exist.
	ErrVideoNotFound = errors.New("video not found")
	// ErrChannelNotFound is returned when the requested channel does not exist.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrVideoDeleted rejects any mutation of a deleted video.
	ErrVideoDeleted = errors.New("video is deleted")
	// ErrAlreadyDeleted guards the delete operation itself.
	ErrAlreadyDeleted = errors.New("video already deleted")
	// ErrInvalidState is returned when an operation is illegal for the
	// video's current lifecycle status.
	ErrInvalidState = errors.New("invalid video state")
)
