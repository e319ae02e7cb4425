package ietf

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moqlite/moqlite/internal/wire"
)

func frame(encode func(*wire.MessageWriter)) []byte {
	var mw wire.MessageWriter
	encode(&mw)
	body := mw.Bytes()
	framed := wire.AppendU53(nil, uint64(len(body)))
	return append(framed, body...)
}

func roundTrip(t *testing.T, encode func(*wire.MessageWriter), decode func(*wire.Reader) error) {
	t.Helper()
	r := wire.NewReader(bytes.NewReader(frame(encode)))
	require.NoError(t, r.Message(decode))
}

func TestSubscribeRoundTrip(t *testing.T) {
	want := Subscribe{ID: 7, Namespace: NamespaceTuple{"anon", "room"}, TrackName: "time", Priority: 3}
	var got Subscribe
	roundTrip(t, want.encode, func(r *wire.Reader) error {
		v, err := decodeSubscribe(r)
		got = v
		return err
	})
	require.Equal(t, want, got)
}

// The encoder always emits the restricted profile's fixed values: filter
// 0x01, group order 0x02, zero parameters.
func TestSubscribeEncodesRestrictedValues(t *testing.T) {
	var mw wire.MessageWriter
	Subscribe{ID: 1, Namespace: NamespaceTuple{"x"}, TrackName: "t", Priority: 0}.encode(&mw)
	body := mw.Bytes()

	// Trailing fixed fields: group_order u8, filter_type varint, num_params varint.
	n := len(body)
	require.Equal(t, byte(0x00), body[n-1]) // num_params = 0
	require.Equal(t, byte(0x01), body[n-2]) // filter_type = latest group
	require.Equal(t, GroupOrderDescending, body[n-3])
}

func TestSubscribeRejectsNonLatestGroupFilter(t *testing.T) {
	var mw wire.MessageWriter
	mw.U62(1)
	encodeNamespace(&mw, NamespaceTuple{"x"})
	mw.String("t")
	mw.U8(0)
	mw.U8(GroupOrderDescending)
	mw.U62(0x02) // absolute-start filter, outside the restricted profile
	mw.U53(0)
	body := mw.Bytes()
	framed := append(wire.AppendU53(nil, uint64(len(body))), body...)

	r := wire.NewReader(bytes.NewReader(framed))
	err := r.Message(func(sub *wire.Reader) error {
		_, err := decodeSubscribe(sub)
		return err
	})
	var rp *ErrRestrictedProfile
	require.ErrorAs(t, err, &rp)
	require.Equal(t, "filter_type", rp.Field)
}

func TestSubscribeRejectsNonZeroParams(t *testing.T) {
	var mw wire.MessageWriter
	mw.U62(1)
	encodeNamespace(&mw, NamespaceTuple{"x"})
	mw.String("t")
	mw.U8(0)
	mw.U8(GroupOrderDescending)
	mw.U62(FilterLatestGroup)
	mw.U53(1)
	body := mw.Bytes()
	framed := append(wire.AppendU53(nil, uint64(len(body))), body...)

	r := wire.NewReader(bytes.NewReader(framed))
	err := r.Message(func(sub *wire.Reader) error {
		_, err := decodeSubscribe(sub)
		return err
	})
	var rp *ErrRestrictedProfile
	require.ErrorAs(t, err, &rp)
	require.Equal(t, "num_params", rp.Field)
}

func TestSubscribeOKRejectsNonZeroExpires(t *testing.T) {
	var mw wire.MessageWriter
	mw.U62(1)
	mw.U62(2)
	mw.U53(30) // nonzero expires
	mw.U8(GroupOrderDescending)
	mw.U8(0)
	body := mw.Bytes()
	framed := append(wire.AppendU53(nil, uint64(len(body))), body...)

	r := wire.NewReader(bytes.NewReader(framed))
	err := r.Message(func(sub *wire.Reader) error {
		_, err := decodeSubscribeOK(sub)
		return err
	})
	var rp *ErrRestrictedProfile
	require.ErrorAs(t, err, &rp)
	require.Equal(t, "expires", rp.Field)
}

func TestSubscribeOKEncodesZeroExpires(t *testing.T) {
	want := SubscribeOK{ID: 5, TrackAlias: 6}
	var got SubscribeOK
	roundTrip(t, want.encode, func(r *wire.Reader) error {
		v, err := decodeSubscribeOK(r)
		got = v
		return err
	})
	require.Equal(t, want, got)
}

func TestAnnounceRoundTrip(t *testing.T) {
	want := Announce{Namespace: NamespaceTuple{"room", "alice", "camera"}}
	var got Announce
	roundTrip(t, want.encode, func(r *wire.Reader) error {
		v, err := decodeAnnounce(r)
		got = v
		return err
	})
	require.Equal(t, want, got)
}

// Object-stream headers are not length-prefixed; they decode straight
// off the stream after the type byte.
func TestObjectHeaderRoundTrip(t *testing.T) {
	want := objectHeader{TrackAlias: 9, GroupID: 4, SubgroupID: 0, Priority: 1}
	var mw wire.MessageWriter
	want.encode(&mw)

	r := wire.NewReader(bytes.NewReader(mw.Bytes()))
	got, err := decodeObjectHeader(r)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestObjectHeaderRejectsNonZeroSubgroup(t *testing.T) {
	var mw wire.MessageWriter
	mw.U62(1)
	mw.U62(2)
	mw.U62(5) // subgroup_id, fixed to 0 in this profile
	mw.U8(0)

	r := wire.NewReader(bytes.NewReader(mw.Bytes()))
	_, err := decodeObjectHeader(r)
	var rp *ErrRestrictedProfile
	require.ErrorAs(t, err, &rp)
	require.Equal(t, "subgroup_id", rp.Field)
}
