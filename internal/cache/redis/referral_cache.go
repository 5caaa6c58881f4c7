package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/perprisk/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

const referralTTL = time.Hour

// ReferralCache implements domain.ReferralCache with one JSON string per
// account at "perprisk:referral:{account}".
type ReferralCache struct {
	rdb *redis.Client
}

// NewReferralCache creates a ReferralCache backed by the given Client.
func NewReferralCache(c *Client) *ReferralCache {
	return &ReferralCache{rdb: c.Underlying()}
}

func referralKey(account common.Address) string {
	return accountKey("referral", account)
}

// Get returns the account's referral info, or domain.ErrNotFound.
func (rc *ReferralCache) Get(ctx context.Context, account common.Address) (domain.UserReferralInfo, error) {
	data, err := rc.rdb.Get(ctx, referralKey(account)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.UserReferralInfo{}, domain.ErrNotFound
		}
		return domain.UserReferralInfo{}, fmt.Errorf("redis: get referral %s: %w", account.Hex(), err)
	}

	var info domain.UserReferralInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return domain.UserReferralInfo{}, fmt.Errorf("redis: unmarshal referral %s: %w", account.Hex(), err)
	}
	return info, nil
}

// Set stores the account's referral info for an hour.
func (rc *ReferralCache) Set(ctx context.Context, account common.Address, info domain.UserReferralInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("redis: marshal referral %s: %w", account.Hex(), err)
	}
	if err := rc.rdb.Set(ctx, referralKey(account), data, referralTTL).Err(); err != nil {
		return fmt.Errorf("redis: set referral %s: %w", account.Hex(), err)
	}
	return nil
}

var _ domain.ReferralCache = (*ReferralCache)(nil)
