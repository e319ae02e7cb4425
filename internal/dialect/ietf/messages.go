// Package ietf implements the restricted moq-transport-07 profile: one
// control stream carrying heterogeneous length-prefixed typed messages,
// and unidirectional object streams framed with STREAM_HEADER_SUBGROUP.
// Message ids, field layout, and the overall control-stream shape are
// lifted directly from the teacher's internal/moq/control.go (draft-15
// client), trimmed to the subset this restricted profile allows.
package ietf

import (
	"fmt"

	"github.com/moqlite/moqlite/internal/wire"
)

// Control message type ids (moq-transport-07, restricted subset).
const (
	MsgSubscribe      uint64 = 0x03
	MsgSubscribeOK    uint64 = 0x04
	MsgSubscribeError uint64 = 0x05
	MsgAnnounce       uint64 = 0x06
	MsgAnnounceOK     uint64 = 0x07
	MsgAnnounceError  uint64 = 0x08
	MsgUnannounce     uint64 = 0x09
	MsgUnsubscribe    uint64 = 0x0a
	MsgSubscribeDone  uint64 = 0x0b
	MsgAnnounceCancel uint64 = 0x0c
	MsgGoAway         uint64 = 0x10
	MsgClientSetup    uint64 = 0x40
	MsgServerSetup    uint64 = 0x41
)

// Version is the only version this restricted profile accepts.
const Version uint64 = 0xff000007

// Restricted profile fixed values (spec §4.5): only the latest-group
// filter, descending order, zero expiry, and zero subscribe parameters
// are ever produced, and any other value observed while decoding is a
// protocol error.
const (
	FilterLatestGroup      uint64 = 0x01
	GroupOrderDescending   byte   = 0x02
	ObjectStatusNormal     uint8  = 0x00
	ObjectStatusEndOfGroup uint8  = 0x03
	StreamHeaderSubgroup   byte   = 0x04
)

// ErrRestrictedProfile flags a decoded value this implementation's
// restricted profile does not allow, e.g. a non-latest-group filter or a
// nonzero SUBSCRIBE_OK expiry.
type ErrRestrictedProfile struct {
	Field string
	Value uint64
}

func (e *ErrRestrictedProfile) Error() string {
	return fmt.Sprintf("ietf: restricted profile violation: %s=%d", e.Field, e.Value)
}

// ClientSetup starts the control stream.
type ClientSetup struct {
	Versions []uint64
	Path     string
}

func (m ClientSetup) encode(w *wire.MessageWriter) {
	w.U53(uint64(len(m.Versions)))
	for _, v := range m.Versions {
		w.U62(v)
	}
	w.String(m.Path)
}

func decodeClientSetup(r *wire.Reader) (ClientSetup, error) {
	n, err := r.U53()
	if err != nil {
		return ClientSetup{}, fmt.Errorf("num_versions: %w", err)
	}
	cs := ClientSetup{Versions: make([]uint64, n)}
	for i := range cs.Versions {
		v, err := r.U62()
		if err != nil {
			return ClientSetup{}, fmt.Errorf("version %d: %w", i, err)
		}
		cs.Versions[i] = v
	}
	p, err := r.String()
	if err != nil {
		return ClientSetup{}, fmt.Errorf("path: %w", err)
	}
	cs.Path = p
	return cs, nil
}

// ServerSetup replies with the single version the server will speak.
type ServerSetup struct {
	SelectedVersion uint64
}

func (m ServerSetup) encode(w *wire.MessageWriter) { w.U62(m.SelectedVersion) }

func decodeServerSetup(r *wire.Reader) (ServerSetup, error) {
	v, err := r.U62()
	if err != nil {
		return ServerSetup{}, fmt.Errorf("selected_version: %w", err)
	}
	return ServerSetup{SelectedVersion: v}, nil
}

// NamespaceTuple is a MoQ namespace: a list of byte-string elements, here
// mapped one-to-one with the path segments of a broadcast path.
type NamespaceTuple []string

func encodeNamespace(w *wire.MessageWriter, ns NamespaceTuple) {
	w.U53(uint64(len(ns)))
	for _, part := range ns {
		w.String(part)
	}
}

func decodeNamespace(r *wire.Reader) (NamespaceTuple, error) {
	n, err := r.U53()
	if err != nil {
		return nil, fmt.Errorf("tuple count: %w", err)
	}
	ns := make(NamespaceTuple, n)
	for i := range ns {
		s, err := r.String()
		if err != nil {
			return nil, fmt.Errorf("tuple element %d: %w", i, err)
		}
		ns[i] = s
	}
	return ns, nil
}

// Subscribe requests delivery of a track, always encoded with the
// restricted profile's fixed filter/order/param values.
type Subscribe struct {
	ID        uint64
	Namespace NamespaceTuple
	TrackName string
	Priority  uint8
}

func (m Subscribe) encode(w *wire.MessageWriter) {
	w.U62(m.ID)
	encodeNamespace(w, m.Namespace)
	w.String(m.TrackName)
	w.U8(m.Priority)
	w.U8(GroupOrderDescending)
	w.U62(FilterLatestGroup)
	w.U53(0) // param count, always zero in the restricted profile
}

func decodeSubscribe(r *wire.Reader) (Subscribe, error) {
	var s Subscribe
	var err error
	s.ID, err = r.U62()
	if err != nil {
		return s, fmt.Errorf("request_id: %w", err)
	}
	s.Namespace, err = decodeNamespace(r)
	if err != nil {
		return s, fmt.Errorf("namespace: %w", err)
	}
	trackName, err := r.String()
	if err != nil {
		return s, fmt.Errorf("track_name: %w", err)
	}
	s.TrackName = trackName
	s.Priority, err = r.U8()
	if err != nil {
		return s, fmt.Errorf("priority: %w", err)
	}
	groupOrder, err := r.U8()
	if err != nil {
		return s, fmt.Errorf("group_order: %w", err)
	}
	if groupOrder != GroupOrderDescending {
		return s, &ErrRestrictedProfile{Field: "group_order", Value: uint64(groupOrder)}
	}
	filterType, err := r.U62()
	if err != nil {
		return s, fmt.Errorf("filter_type: %w", err)
	}
	if filterType != FilterLatestGroup {
		return s, &ErrRestrictedProfile{Field: "filter_type", Value: filterType}
	}
	numParams, err := r.U53()
	if err != nil {
		return s, fmt.Errorf("num_params: %w", err)
	}
	if numParams != 0 {
		return s, &ErrRestrictedProfile{Field: "num_params", Value: numParams}
	}
	return s, nil
}

// SubscribeOK confirms a subscription. Expires is always zero in the
// restricted profile.
type SubscribeOK struct {
	ID         uint64
	TrackAlias uint64
}

func (m SubscribeOK) encode(w *wire.MessageWriter) {
	w.U62(m.ID)
	w.U62(m.TrackAlias)
	w.U53(0) // expires, must be zero
	w.U8(GroupOrderDescending)
	w.U8(0) // content_exists = false; this profile never replays history
}

func decodeSubscribeOK(r *wire.Reader) (SubscribeOK, error) {
	var s SubscribeOK
	var err error
	s.ID, err = r.U62()
	if err != nil {
		return s, fmt.Errorf("request_id: %w", err)
	}
	s.TrackAlias, err = r.U62()
	if err != nil {
		return s, fmt.Errorf("track_alias: %w", err)
	}
	expires, err := r.U53()
	if err != nil {
		return s, fmt.Errorf("expires: %w", err)
	}
	if expires != 0 {
		return s, &ErrRestrictedProfile{Field: "expires", Value: expires}
	}
	groupOrder, err := r.U8()
	if err != nil {
		return s, fmt.Errorf("group_order: %w", err)
	}
	if groupOrder != GroupOrderDescending {
		return s, &ErrRestrictedProfile{Field: "group_order", Value: uint64(groupOrder)}
	}
	if _, err := r.U8(); err != nil {
		return s, fmt.Errorf("content_exists: %w", err)
	}
	return s, nil
}

// SubscribeError rejects a subscription.
type SubscribeError struct {
	ID     uint64
	Code   uint64
	Reason string
}

func (m SubscribeError) encode(w *wire.MessageWriter) {
	w.U62(m.ID)
	w.U62(m.Code)
	w.String(m.Reason)
}

func decodeSubscribeError(r *wire.Reader) (SubscribeError, error) {
	var s SubscribeError
	var err error
	s.ID, err = r.U62()
	if err != nil {
		return s, fmt.Errorf("request_id: %w", err)
	}
	s.Code, err = r.U62()
	if err != nil {
		return s, fmt.Errorf("error_code: %w", err)
	}
	s.Reason, err = r.String()
	if err != nil {
		return s, fmt.Errorf("reason: %w", err)
	}
	return s, nil
}

// Unsubscribe cancels a subscription.
type Unsubscribe struct{ ID uint64 }

func (m Unsubscribe) encode(w *wire.MessageWriter) { w.U62(m.ID) }

func decodeUnsubscribe(r *wire.Reader) (Unsubscribe, error) {
	id, err := r.U62()
	if err != nil {
		return Unsubscribe{}, fmt.Errorf("request_id: %w", err)
	}
	return Unsubscribe{ID: id}, nil
}

// Announce declares a namespace as publishable.
type Announce struct{ Namespace NamespaceTuple }

func (m Announce) encode(w *wire.MessageWriter) { encodeNamespace(w, m.Namespace) }

func decodeAnnounce(r *wire.Reader) (Announce, error) {
	ns, err := decodeNamespace(r)
	if err != nil {
		return Announce{}, fmt.Errorf("namespace: %w", err)
	}
	return Announce{Namespace: ns}, nil
}

// Unannounce withdraws a previously announced namespace.
type Unannounce struct{ Namespace NamespaceTuple }

func (m Unannounce) encode(w *wire.MessageWriter) { encodeNamespace(w, m.Namespace) }

func decodeUnannounce(r *wire.Reader) (Unannounce, error) {
	ns, err := decodeNamespace(r)
	if err != nil {
		return Unannounce{}, fmt.Errorf("namespace: %w", err)
	}
	return Unannounce{Namespace: ns}, nil
}

// objectHeader is written once per unidirectional group stream, after
// the STREAM_HEADER_SUBGROUP type byte.
type objectHeader struct {
	TrackAlias uint64
	GroupID    uint64
	SubgroupID uint64
	Priority   uint8
}

func (m objectHeader) encode(w *wire.MessageWriter) {
	w.U62(m.TrackAlias)
	w.U62(m.GroupID)
	w.U62(m.SubgroupID)
	w.U8(m.Priority)
}

func decodeObjectHeader(r *wire.Reader) (objectHeader, error) {
	var h objectHeader
	var err error
	h.TrackAlias, err = r.U62()
	if err != nil {
		return h, fmt.Errorf("track_alias: %w", err)
	}
	h.GroupID, err = r.U62()
	if err != nil {
		return h, fmt.Errorf("group_id: %w", err)
	}
	h.SubgroupID, err = r.U62()
	if err != nil {
		return h, fmt.Errorf("subgroup_id: %w", err)
	}
	h.Priority, err = r.U8()
	if err != nil {
		return h, fmt.Errorf("priority: %w", err)
	}
	if h.SubgroupID != 0 {
		return h, &ErrRestrictedProfile{Field: "subgroup_id", Value: h.SubgroupID}
	}
	return h, nil
}
