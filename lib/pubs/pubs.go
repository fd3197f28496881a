// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

package pubs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"

	"github.com/murmur-net/murmur/lib/feed"
	"github.com/murmur-net/murmur/lib/identity"
)

// ContentType is the content type of a pub announcement record.
const ContentType = "pub"

// PublishFunc publishes one record to the local feed. The session
// hands its own publish operation to the preloader in this shape so
// the preloader never holds the session itself.
type PublishFunc func(ctx context.Context, content feed.Content) (feed.RecordID, error)

// Preloader seeds a store that has never been used. The session calls
// it exactly once in a store's lifetime, on the first login against a
// fresh data directory; re-logins and restarts never call it again.
type Preloader interface {
	// Preload publishes whatever initial content the preloader
	// carries and returns how many records it published.
	Preload(ctx context.Context, publish PublishFunc) (int, error)
}

// Pub is one relay endpoint in a bundle.
type Pub struct {
	// Name is a human-readable label.
	Name string `json:"name"`

	// Address is the endpoint's host:port.
	Address string `json:"address"`

	// Key is the pub operator's public key.
	Key identity.PublicKey `json:"key"`

	// Invite is an optional invite token issued by the pub.
	Invite string `json:"invite,omitempty"`
}

// Bundle is a parsed set of pub endpoints. It implements Preloader by
// publishing one announcement record per pub.
type Bundle struct {
	Pubs []Pub `json:"pubs"`
}

// BundleFromJSONC parses a bundle from JSONC bytes. Comments and
// trailing commas are allowed; bundle files are hand-edited.
func BundleFromJSONC(data []byte) (*Bundle, error) {
	var bundle Bundle
	if err := json.Unmarshal(jsonc.ToJSON(data), &bundle); err != nil {
		return nil, fmt.Errorf("pubs: parsing bundle: %w", err)
	}
	for i, pub := range bundle.Pubs {
		if pub.Address == "" {
			return nil, fmt.Errorf("pubs: bundle entry %d (%q): missing address", i, pub.Name)
		}
		if pub.Key.IsZero() {
			return nil, fmt.Errorf("pubs: bundle entry %d (%q): missing key", i, pub.Name)
		}
	}
	return &bundle, nil
}

// BundleFromFile reads and parses a bundle file.
func BundleFromFile(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pubs: reading bundle: %w", err)
	}
	return BundleFromJSONC(data)
}

// Preload publishes one announcement record per pub, in bundle order.
// Stops at the first publish failure, reporting how many made it.
func (b *Bundle) Preload(ctx context.Context, publish PublishFunc) (int, error) {
	for i, pub := range b.Pubs {
		body, err := json.Marshal(pub)
		if err != nil {
			return i, fmt.Errorf("pubs: encoding announcement for %q: %w", pub.Name, err)
		}
		_, err = publish(ctx, feed.Content{
			Type: ContentType,
			Body: string(body),
		})
		if err != nil {
			return i, fmt.Errorf("pubs: announcing %q: %w", pub.Name, err)
		}
	}
	return len(b.Pubs), nil
}
