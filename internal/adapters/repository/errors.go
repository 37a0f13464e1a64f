package repository

import (
	"errors"

	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/model"
)

// Sentinel kinds for storage errors.
var (
	ErrPersistence = errors.New("persistence error")
	ErrRunNotFound = model.ErrRunNotFound
)
