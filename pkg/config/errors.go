// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"errors"
	"fmt"
)

// The closed set of configuration validation failures.
var (
	ErrInvalidISID       = errors.New("config: isid must decode to exactly 6 bytes")
	ErrNoInitiatorName   = errors.New("config: initiator.name is required")
	ErrNoTargets         = errors.New("config: at least one target is required")
	ErrMaxSessions       = errors.New("config: connections.max_sessions must be > 0")
	ErrIncompleteAuth    = errors.New("config: auth requires both username and secret")
)

func validate(c *Config) error {
	if c.Initiator.Name == "" {
		return ErrNoInitiatorName
	}
	if _, err := c.Initiator.DecodeISID(); err != nil {
		return err
	}
	if len(c.Targets) == 0 {
		return ErrNoTargets
	}
	for i, t := range c.Targets {
		if t.Auth == nil {
			continue
		}
		if (t.Auth.Username == "") != (t.Auth.Secret == "") {
			return fmt.Errorf("%w: target[%d] %q", ErrIncompleteAuth, i, t.Name)
		}
	}
	if c.Connections.MaxSessions <= 0 {
		return ErrMaxSessions
	}
	return nil
}
