package plan

import "slices"

// Subscription pricing catalogue. Prices are EUR cents per gigabyte per month.
const (
	Currency = "EUR"

	storagePriceCentsPerGB   = 20
	bandwidthPriceCentsPerGB = 10
)

// GigabyteBytes converts catalogue sizes to the byte limits stored on plans.
const GigabyteBytes = 1 << 30

// Purchasable sizes, in gigabytes. Storage sizing drives the postage batch
// depth so options align with batch capacity steps.
var (
	storageGigabytes   = []int64{4, 16, 40, 100, 220, 475, 1000}
	bandwidthGigabytes = []int64{4, 16, 40, 100, 220, 475, 1000}
)

// StorageOptions returns the purchasable storage sizes in gigabytes.
func StorageOptions() []int64 {
	return append([]int64(nil), storageGigabytes...)
}

// BandwidthOptions returns the purchasable bandwidth sizes in gigabytes.
func BandwidthOptions() []int64 {
	return append([]int64(nil), bandwidthGigabytes...)
}

// QuoteSubscription prices a storage/bandwidth combination in EUR cents,
// rejecting sizes that are not in the catalogue.
func QuoteSubscription(storageGB, bandwidthGB int64) (int64, error) {
	if !slices.Contains(storageGigabytes, storageGB) || !slices.Contains(bandwidthGigabytes, bandwidthGB) {
		return 0, ErrInvalidOption
	}
	return storageGB*storagePriceCentsPerGB + bandwidthGB*bandwidthPriceCentsPerGB, nil
}
