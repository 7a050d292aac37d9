package inmemdb

import (
	"sync"

	"github.com/SkTech0/VirtualClassroom-sub000/core/auth"
	"github.com/SkTech0/VirtualClassroom-sub000/core/user"
)

type (
	// DB is a process local store holding users & refresh tokens.
	DB struct {
		user         *userTable
		refreshToken *refreshTokenTable
	}

	userTable struct {
		mutex sync.RWMutex
		table map[string]*user.User
	}

	refreshTokenTable struct {
		mutex sync.RWMutex
		table map[string]*auth.RefreshToken
	}
)

func Open() *DB {
	return &DB{
		user:         &userTable{table: make(map[string]*user.User)},
		refreshToken: &refreshTokenTable{table: make(map[string]*auth.RefreshToken)},
	}
}
