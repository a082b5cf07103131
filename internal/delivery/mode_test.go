package delivery_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/consignhub/consignhub/internal/delivery"
	"github.com/consignhub/consignhub/internal/shared"
)

func TestParseModeSend(t *testing.T) {
	mode, err := delivery.ParseMode(delivery.Header{Mode: "send", FromBranchID: ptr(int64(1)), ToPartnerID: ptr(int64(3))})
	require.NoError(t, err)
	require.Equal(t, delivery.Send{FromBranchID: 1, ToPartnerID: 3}, mode)
}

func TestParseModeReturnPartnerFallbackOrder(t *testing.T) {
	cases := map[string]struct {
		header  delivery.Header
		partner int64
	}{
		"from partner wins": {
			header:  delivery.Header{FromPartnerID: ptr(int64(1)), PartnerID: ptr(int64(2)), ToPartnerID: ptr(int64(3))},
			partner: 1,
		},
		"partner before to partner": {
			header:  delivery.Header{PartnerID: ptr(int64(2)), ToPartnerID: ptr(int64(3))},
			partner: 2,
		},
		"to partner last": {
			header:  delivery.Header{ToPartnerID: ptr(int64(3))},
			partner: 3,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			h := tc.header
			h.Mode = "RETURN"
			h.ToBranchID = ptr(int64(9))
			mode, err := delivery.ParseMode(h)
			require.NoError(t, err)
			require.Equal(t, delivery.Return{FromPartnerID: tc.partner, ToBranchID: 9}, mode)
		})
	}
}

func TestParseModeReturnWithoutPartner(t *testing.T) {
	_, err := delivery.ParseMode(delivery.Header{Mode: "RETURN", ToBranchID: ptr(int64(9))})
	require.ErrorIs(t, err, delivery.ErrMissingPartner)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestParseModeRejectsUnknownMode(t *testing.T) {
	_, err := delivery.ParseMode(delivery.Header{Mode: "TRANSFER", FromBranchID: ptr(int64(1)), ToPartnerID: ptr(int64(3))})
	require.ErrorIs(t, err, delivery.ErrUnsupportedMode)
	require.Contains(t, err.Error(), "TRANSFER")
}

func TestParseModeRequiresBranch(t *testing.T) {
	_, err := delivery.ParseMode(delivery.Header{Mode: "SEND", ToPartnerID: ptr(int64(3))})
	var vErr *shared.ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Equal(t, "fromBranchId", vErr.Field)

	_, err = delivery.ParseMode(delivery.Header{Mode: "RETURN", PartnerID: ptr(int64(3))})
	require.ErrorAs(t, err, &vErr)
	require.Equal(t, "toBranchId", vErr.Field)
}

func TestHeaderOfRoundTripsThroughParseMode(t *testing.T) {
	for _, mode := range []delivery.Mode{
		delivery.Send{FromBranchID: 4, ToPartnerID: 8},
		delivery.Return{FromPartnerID: 8, ToBranchID: 4},
	} {
		parsed, err := delivery.ParseMode(delivery.HeaderOf(mode))
		require.NoError(t, err)
		require.Equal(t, mode, parsed)
	}
}
