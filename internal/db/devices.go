package db

import (
	"context"

	"github.com/airfi/airfi-guest-portal/internal/router"
)

const deviceColumns = `id, mac_address, mobile_number, reason, blocked_at, blocked_by, is_active`

// BlockDevice creates or reactivates the block record for d.MACAddress,
// stored in router.CanonicalMAC form. The unique key on mac_address keeps
// at most one record per device.
func (db *DB) BlockDevice(ctx context.Context, d *BlockedDevice) error {
	d.MACAddress = router.CanonicalMAC(d.MACAddress)
	d.BlockedAt = db.now()
	d.IsActive = true

	return db.conn.QueryRowxContext(ctx, db.conn.Rebind(`
		INSERT INTO blocked_devices (mac_address, mobile_number, reason, blocked_at, blocked_by, is_active)
		VALUES (?, ?, ?, ?, ?, TRUE)
		ON CONFLICT (mac_address) DO UPDATE SET
			mobile_number = excluded.mobile_number,
			reason = excluded.reason,
			blocked_at = excluded.blocked_at,
			blocked_by = excluded.blocked_by,
			is_active = TRUE
		RETURNING id
	`), d.MACAddress, d.MobileNumber, d.Reason, d.BlockedAt, d.BlockedBy).Scan(&d.ID)
}

// IsDeviceBlocked reports whether mac has an active block record.
func (db *DB) IsDeviceBlocked(ctx context.Context, mac string) (bool, error) {
	var n int
	err := db.conn.GetContext(ctx, &n, db.conn.Rebind(`
		SELECT COUNT(*) FROM blocked_devices WHERE mac_address = ? AND is_active = TRUE
	`), router.CanonicalMAC(mac))
	return n > 0, err
}

// GetBlockedDevice retrieves a block record by ID.
func (db *DB) GetBlockedDevice(ctx context.Context, id int64) (*BlockedDevice, error) {
	var d BlockedDevice
	err := db.conn.GetContext(ctx, &d, db.conn.Rebind(`SELECT `+deviceColumns+` FROM blocked_devices WHERE id = ?`), id)
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

// ListBlockedDevices returns active block records, newest first.
func (db *DB) ListBlockedDevices(ctx context.Context) ([]BlockedDevice, error) {
	devices := []BlockedDevice{}
	err := db.conn.SelectContext(ctx, &devices, `
		SELECT `+deviceColumns+` FROM blocked_devices
		WHERE is_active = TRUE ORDER BY blocked_at DESC, id DESC
	`)
	return devices, err
}

// UnblockDevice deactivates a block record. The row is kept.
func (db *DB) UnblockDevice(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx, db.conn.Rebind(`UPDATE blocked_devices SET is_active = FALSE WHERE id = ?`), id)
	return affected(res, err)
}

// UnblockMobile deactivates every active block record attributed to
// mobile and returns the MACs it released.
func (db *DB) UnblockMobile(ctx context.Context, mobile string) ([]string, error) {
	macs := []string{}
	err := db.conn.SelectContext(ctx, &macs, db.conn.Rebind(`
		UPDATE blocked_devices SET is_active = FALSE
		WHERE mobile_number = ? AND is_active = TRUE
		RETURNING mac_address
	`), mobile)
	return macs, err
}

// CountActiveBlocks returns the number of active block records.
func (db *DB) CountActiveBlocks(ctx context.Context) (int, error) {
	var n int
	err := db.conn.GetContext(ctx, &n, `SELECT COUNT(*) FROM blocked_devices WHERE is_active = TRUE`)
	return n, err
}
