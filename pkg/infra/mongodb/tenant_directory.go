package mongodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
)

const tenantsCollection = "tenants"

// tenantDoc is the stored shape of a tenant view. Percent fields persist as
// decimal strings so no float ever touches fee math.
type tenantDoc struct {
	ID                 common.TenantID `bson:"_id"`
	Name               string          `bson:"name"`
	PlatformFeePercent string          `bson:"platform_fee_percent"`
	Payout             struct {
		HoldbackPercent string `bson:"holdback_percent"`
		MinimumPayout   int64  `bson:"minimum_payout"`
		Schedule        string `bson:"schedule"`
	} `bson:"payout"`
}

// TenantDirectory resolves tenant views from the tenants collection, which
// the platform's tenant-management service owns and this service reads.
type TenantDirectory struct {
	collection *mongo.Collection
}

var _ common.TenantDirectory = (*TenantDirectory)(nil)

func NewTenantDirectory(db *mongo.Database) *TenantDirectory {
	return &TenantDirectory{collection: db.Collection(tenantsCollection)}
}

func (d *TenantDirectory) Get(ctx context.Context, id common.TenantID) (*common.TenantView, error) {
	var doc tenantDoc

	err := d.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, common.Ef(common.KindNotFound, "tenant_not_found", "tenant %s not found", id)
	}

	if err != nil {
		return nil, fmt.Errorf("find tenant: %w", err)
	}

	feePercent, err := parsePercent(doc.PlatformFeePercent)
	if err != nil {
		return nil, common.Wrap(common.KindIntegrity, "malformed_tenant", "platform fee percent", err)
	}

	holdback, err := parsePercent(doc.Payout.HoldbackPercent)
	if err != nil {
		return nil, common.Wrap(common.KindIntegrity, "malformed_tenant", "holdback percent", err)
	}

	return &common.TenantView{
		ID:                 doc.ID,
		Name:               doc.Name,
		PlatformFeePercent: feePercent,
		Payout: common.PayoutSettings{
			HoldbackPercent: holdback,
			MinimumPayout:   doc.Payout.MinimumPayout,
			Schedule:        doc.Payout.Schedule,
		},
	}, nil
}

func parsePercent(v string) (decimal.Decimal, error) {
	if v == "" {
		return decimal.Zero, nil
	}

	return decimal.NewFromString(v)
}
