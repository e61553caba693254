// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ipc

import (
	"strings"
	"sync"

	"nyanos.dev/kernel/pkg/abi/posix"
	"nyanos.dev/kernel/pkg/kernerr"
	"nyanos.dev/kernel/pkg/sentry/kernel/handle"
	"nyanos.dev/kernel/pkg/waiter"
)

// Service is a named container of Interfaces (§3), reachable by every
// process through the Kernel's shared Registry.
type Service struct {
	waiter.Queue

	Name string

	mu         sync.Mutex
	interfaces map[string]*Interface
	destroyed  bool
}

// NewService constructs an empty Service named name.
func NewService(name string) *Service {
	return &Service{Name: name, interfaces: make(map[string]*Interface)}
}

// Type implements handle.Object.
func (s *Service) Type() handle.Type { return handle.TypeService }

// Destroy implements handle.Object: destroys every Interface the service
// still owns.
func (s *Service) Destroy() {
	s.mu.Lock()
	s.destroyed = true
	ifaces := s.interfaces
	s.interfaces = nil
	s.mu.Unlock()
	for _, iface := range ifaces {
		iface.Destroy()
	}
}

// Readiness implements waiter.Waitable; Services are not otherwise
// waited on directly (only their Interfaces and Endpoints are), so this
// only ever reports EventHUp once destroyed.
func (s *Service) Readiness(mask waiter.EventMask) waiter.EventMask {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return waiter.EventHUp & mask
	}
	return 0
}

// CreateInterface implements "interface creation" (§4.4): names must be
// unique within the owning Service.
func (s *Service) CreateInterface(name string, maxMsgSize int32) (*Interface, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return nil, kernerr.New("create_interface", posix.EINVAL)
	}
	if _, ok := s.interfaces[name]; ok {
		return nil, kernerr.New("create_interface", posix.EEXIST)
	}
	iface := NewInterface(name, maxMsgSize)
	s.interfaces[name] = iface
	return iface, nil
}

// Interface looks up an Interface by name.
func (s *Service) Interface(name string) (*Interface, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	iface, ok := s.interfaces[name]
	return iface, ok
}

// Registry is the Kernel-wide mapping from unique service name to
// Service (§4.4): shared by every process so that one process's Create
// is visible to another process's Resolve.
type Registry struct {
	mu       sync.Mutex
	services map[string]*Service
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{services: make(map[string]*Service)}
}

// Create registers a new Service, failing with EEXIST if the name is
// already taken (§4.4).
func (r *Registry) Create(name string) (*Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[name]; ok {
		return nil, kernerr.New("create_service", posix.EEXIST)
	}
	svc := NewService(name)
	r.services[name] = svc
	return svc, nil
}

// Remove drops name from the registry, if present. It does not itself
// destroy the Service; the caller's handle Destroy does that.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	delete(r.services, name)
	r.mu.Unlock()
}

// Resolve implements connect's path lookup (§4.4, §6): path must be of
// the form "service/interface" with exactly one slash separator.
func (r *Registry) Resolve(path string) (*Interface, error) {
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || strings.Contains(parts[1], "/") {
		return nil, kernerr.New("interface_connect", posix.EINVAL)
	}
	svcName, ifaceName := parts[0], parts[1]

	r.mu.Lock()
	svc, ok := r.services[svcName]
	r.mu.Unlock()
	if !ok {
		return nil, kernerr.New("interface_connect", posix.ENOENT)
	}
	iface, ok := svc.Interface(ifaceName)
	if !ok {
		return nil, kernerr.New("interface_connect", posix.ENOENT)
	}
	return iface, nil
}
