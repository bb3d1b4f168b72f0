// Package meow implements the wa.Connection contract on top of whatsmeow.
// Each session id gets its own sqlite credential container under the
// credential store, so logout can destroy exactly one tenant's pairing
// material.
package meow

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"go.mau.fi/whatsmeow"
	waCompanionReg "go.mau.fi/whatsmeow/proto/waCompanionReg"
	waStore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	// Pure-Go sqlite driver backing the credential containers.
	_ "modernc.org/sqlite"

	"github.com/barberclick/whatsapp-gateway/internal/service/wa"
	"github.com/barberclick/whatsapp-gateway/internal/store"
)

// Dialer opens whatsmeow-backed connections with credentials rooted in the
// given store.
type Dialer struct {
	creds *store.CredentialStore
	log   waLog.Logger
}

// NewDialer configures the driver. The companion device name is what shows
// up in the phone's linked-devices list.
func NewDialer(creds *store.CredentialStore) *Dialer {
	waStore.DeviceProps.Os = proto.String("BarberClick")
	waStore.DeviceProps.PlatformType = waCompanionReg.DeviceProps_CHROME.Enum()
	return &Dialer{
		creds: creds,
		log:   waLog.Noop,
	}
}

// Dial opens the session's credential container, connects, and wires
// events through to the handler. When no device is paired yet, the QR
// channel is pumped so the handler sees pairing codes.
func (d *Dialer) Dial(ctx context.Context, sessionID string, handler wa.EventHandler) (wa.Connection, error) {
	dir, err := d.creds.Ensure(sessionID)
	if err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)", filepath.Join(dir, "creds.db"))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open credential database: %w", err)
	}
	conn, err := d.connect(ctx, db, handler)
	if err != nil {
		db.Close()
		return nil, err
	}
	return conn, nil
}

// connect builds the client on an already opened credential database. The
// caller owns db until a Connection is returned; afterwards the connection
// releases it in Close.
func (d *Dialer) connect(ctx context.Context, db *sql.DB, handler wa.EventHandler) (*Connection, error) {
	// modernc registers as "sqlite"; whatsmeow generates its SQL for the
	// "sqlite3" dialect.
	container := sqlstore.NewWithDB(db, "sqlite3", d.log)
	if err := container.Upgrade(ctx); err != nil {
		return nil, fmt.Errorf("migrate credential container: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}

	client := whatsmeow.NewClient(device, d.log)
	// Reconnection is the manager's policy, not the library's.
	client.EnableAutoReconnect = false

	conn := &Connection{client: client, db: db, handler: handler}
	client.AddEventHandler(conn.handleEvent)

	if client.Store.ID == nil {
		qrChan, err := client.GetQRChannel(ctx)
		if err != nil {
			return nil, fmt.Errorf("open QR channel: %w", err)
		}
		go conn.pumpQR(qrChan)
	}

	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return conn, nil
}
