// Package meow adapts whatsmeow clients to the whatsapp.Conn contract.
package meow

import (
	"context"
	"strings"

	"github.com/fxamacker/cbor/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/talkincode/wagateway/internal/whatsapp"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waTypes "go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// credentials is the blob a session persists after pairing. The device keys
// themselves stay in the whatsmeow tables; the blob only locates them.
type credentials struct {
	JID      string `cbor:"1,keyasint"`
	PushName string `cbor:"2,keyasint,omitempty"`
	Platform string `cbor:"3,keyasint,omitempty"`
}

func encodeCreds(c credentials) ([]byte, error) {
	return cbor.Marshal(c)
}

func decodeCreds(blob []byte) (credentials, error) {
	var c credentials
	if len(blob) == 0 {
		return c, nil
	}
	if err := cbor.Unmarshal(blob, &c); err != nil {
		return c, errors.Wrap(err, "meow: decode creds")
	}
	return c, nil
}

// Dialer opens whatsmeow clients whose device state lives in the
// application database.
type Dialer struct {
	container *sqlstore.Container
}

// NewDialer reuses the application's database connection so the whatsmeow
// tables sit next to the gateway tables, then runs the whatsmeow migrations.
func NewDialer(ctx context.Context, db *gorm.DB, dbType, osName string) (*Dialer, error) {
	sqlDB, err := db.DB()
	if err != nil {
		zap.L().Error("meow: failed to get sql.DB from gorm", zap.Error(err))
		return nil, errors.Wrap(err, "meow: obtain sql.DB")
	}

	driver := "sqlite3"
	switch strings.ToLower(strings.TrimSpace(dbType)) {
	case "postgres", "postgresql":
		driver = "postgres"
	default:
		// whatsmeow needs foreign keys for its cascades
		if _, err := sqlDB.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
			zap.L().Warn("meow: unable to enable sqlite foreign_keys pragma", zap.Error(err))
		}
	}

	if osName != "" {
		store.SetOSInfo(osName, [3]uint32{1, 0, 0})
	}
	container := sqlstore.NewWithDB(sqlDB, driver, Logger("sqlstore"))
	if err := container.Upgrade(ctx); err != nil {
		zap.L().Error("meow: sqlstore upgrade failed", zap.Error(err), zap.String("driver", driver))
		return nil, errors.Wrap(err, "meow: sqlstore upgrade")
	}
	return &Dialer{container: container}, nil
}

// Dial loads the device named by creds, or a blank one to pair from
// scratch when creds is empty or the device is gone.
func (d *Dialer) Dial(ctx context.Context, key string, creds []byte) (whatsapp.Conn, error) {
	device, err := d.device(ctx, creds)
	if err != nil {
		return nil, err
	}
	client := whatsmeow.NewClient(device, Logger("client").Sub(key))
	// reconnects are supervised by the session
	client.EnableAutoReconnect = false
	return newConn(key, client), nil
}

func (d *Dialer) device(ctx context.Context, blob []byte) (*store.Device, error) {
	c, err := decodeCreds(blob)
	if err != nil {
		zap.L().Warn("meow: unreadable creds, pairing again", zap.Error(err))
		return d.container.NewDevice(), nil
	}
	if c.JID == "" {
		return d.container.NewDevice(), nil
	}
	jid, err := waTypes.ParseJID(c.JID)
	if err != nil {
		zap.L().Warn("meow: invalid stored jid, pairing again", zap.String("jid", c.JID), zap.Error(err))
		return d.container.NewDevice(), nil
	}
	device, err := d.container.GetDevice(ctx, jid)
	if err != nil {
		return nil, errors.Wrapf(err, "meow: load device %s", c.JID)
	}
	if device == nil {
		zap.L().Info("meow: stored device missing, pairing again", zap.String("jid", c.JID))
		return d.container.NewDevice(), nil
	}
	return device, nil
}

var _ whatsapp.Dialer = (*Dialer)(nil)
