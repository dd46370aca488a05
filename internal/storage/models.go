// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import "time"

// QueueStatus is the lifecycle state of a queue row.
type QueueStatus string

const (
	QueueWaiting  QueueStatus = "WAITING"
	QueueLoading  QueueStatus = "LOADING"
	QueueReady    QueueStatus = "READY"
	QueueDeparted QueueStatus = "DEPARTED"
)

// QueueType orders rows within a destination: OVERNIGHT precedes REGULAR.
type QueueType string

const (
	QueueTypeOvernight QueueType = "OVERNIGHT"
	QueueTypeRegular   QueueType = "REGULAR"
)

// BookingSource identifies where a booking was sold.
type BookingSource string

const (
	SourceStation BookingSource = "STATION"
	SourceOnline  BookingSource = "ONLINE"
)

// PaymentStatus of a booking.
type PaymentStatus string

const (
	PaymentPaid    PaymentStatus = "PAID"
	PaymentPending PaymentStatus = "PENDING"
	PaymentFailed  PaymentStatus = "FAILED"
)

// SyncStatus tracks outbound shipping of locally created records.
type SyncStatus string

const (
	SyncPending SyncStatus = "PENDING"
	SyncSynced  SyncStatus = "SYNCED"
	SyncFailed  SyncStatus = "FAILED"
)

// StaffRole is the station staff role.
type StaffRole string

const (
	RoleWorker     StaffRole = "WORKER"
	RoleSupervisor StaffRole = "SUPERVISOR"
	RoleAdmin      StaffRole = "ADMIN"
)

// Vehicle is owned by central; the local node mutates it only through the
// reconciler.
type Vehicle struct {
	ID           string    `gorm:"primaryKey" json:"id"`
	LicensePlate string    `gorm:"uniqueIndex;not null" json:"licensePlate"`
	Capacity     int       `gorm:"not null" json:"capacity"`
	Model        *string   `json:"model,omitempty"`
	Year         *int      `json:"year,omitempty"`
	Color        *string   `json:"color,omitempty"`
	IsActive     bool      `gorm:"default:true" json:"isActive"`
	IsAvailable  bool      `gorm:"default:true" json:"isAvailable"`
	SyncedAt     time.Time `json:"syncedAt"`

	Driver             *Driver             `gorm:"foreignKey:VehicleID" json:"driver,omitempty"`
	AuthorizedStations []AuthorizedStation `gorm:"foreignKey:VehicleID" json:"authorizedStations,omitempty"`
}

// Driver is owned by central. 1:1 with Vehicle via VehicleID.
type Driver struct {
	ID                   string    `gorm:"primaryKey" json:"id"`
	CIN                  string    `gorm:"column:cin;uniqueIndex;not null" json:"cin"`
	FirstName            string    `json:"firstName"`
	LastName             string    `json:"lastName"`
	PhoneNumber          string    `json:"phoneNumber"`
	OriginGovernorateID  *string   `json:"originGovernorateId,omitempty"`
	OriginDelegationID   *string   `json:"originDelegationId,omitempty"`
	OriginAddress        *string   `json:"originAddress,omitempty"`
	AccountStatus        string    `json:"accountStatus"`
	IsActive             bool      `gorm:"default:true" json:"isActive"`
	VehicleID            string    `gorm:"uniqueIndex;not null" json:"vehicleId"`
	SyncedAt             time.Time `json:"syncedAt"`
}

// AuthorizedStation is the vehicle-station join entity. Presence means the
// vehicle may operate from this station. IDs are deterministic
// "<vehicleID>_<stationID>" so sync replays are idempotent.
type AuthorizedStation struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	VehicleID string    `gorm:"index;not null" json:"vehicleId"`
	StationID string    `gorm:"index;not null" json:"stationId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Route is a destination served from this station, owned by central.
type Route struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	StationID string    `gorm:"uniqueIndex;not null" json:"stationId"`
	Name      string    `json:"name"`
	BasePrice float64   `json:"basePrice"`
	IsActive  bool      `gorm:"default:true" json:"isActive"`
	SyncedAt  time.Time `json:"syncedAt"`
}

// Staff is a station employee. The default password is the hashed CIN.
type Staff struct {
	ID          string     `gorm:"primaryKey" json:"id"`
	CIN         string     `gorm:"column:cin;uniqueIndex;not null" json:"cin"`
	FirstName   string     `json:"firstName"`
	LastName    string     `json:"lastName"`
	Role        StaffRole  `gorm:"not null" json:"role"`
	PhoneNumber string     `json:"phoneNumber"`
	Password    string     `gorm:"not null" json:"-"`
	IsActive    bool       `gorm:"default:true" json:"isActive"`
	LastLogin   *time.Time `json:"lastLogin,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Session is a staff login session. At most one active session per staff:
// creating a new one deactivates prior active ones. The token is the lookup
// key and is stored verbatim.
type Session struct {
	ID             string    `gorm:"primaryKey" json:"id"`
	StaffID        string    `gorm:"index;not null" json:"staffId"`
	Token          string    `gorm:"uniqueIndex;not null" json:"token"`
	StaffData      string    `json:"staffData"`
	IsActive       bool      `gorm:"default:true" json:"isActive"`
	LastActivity   time.Time `json:"lastActivity"`
	ExpiresAt      time.Time `json:"expiresAt"`
	CreatedOffline bool      `json:"createdOffline"`
	CreatedAt      time.Time `json:"createdAt"`
}

// VehicleQueue is a single vehicle positioned at a destination.
//
// Invariants enforced by the queue engine and booking allocator:
//   - 0 <= AvailableSeats <= TotalSeats
//   - Status READY implies AvailableSeats == 0
//   - DEPARTED is terminal; the row is kept for audit only
//   - positions form a contiguous 1..N per destination over
//     non-DEPARTED rows
//   - at most one non-DEPARTED row per (VehicleID, DestinationID)
type VehicleQueue struct {
	ID                 string      `gorm:"primaryKey" json:"id"`
	VehicleID          string      `gorm:"index;not null" json:"vehicleId"`
	DestinationID      string      `gorm:"index;not null" json:"destinationId"`
	DestinationName    string      `json:"destinationName"`
	QueueType          QueueType   `gorm:"default:REGULAR" json:"queueType"`
	QueuePosition      int         `gorm:"not null" json:"queuePosition"`
	Status             QueueStatus `gorm:"default:WAITING" json:"status"`
	TotalSeats         int         `gorm:"not null" json:"totalSeats"`
	AvailableSeats     int         `gorm:"not null" json:"availableSeats"`
	BasePrice          float64     `json:"basePrice"`
	EstimatedDeparture *time.Time  `json:"estimatedDeparture,omitempty"`
	EnteredAt          time.Time   `json:"enteredAt"`
	UpdatedAt          time.Time   `json:"updatedAt"`
}

// Booking is a cash ticket sale against a queue row. Created once,
// optionally mutated to verified, never deleted.
type Booking struct {
	ID               string        `gorm:"primaryKey" json:"id"`
	QueueID          string        `gorm:"index;not null" json:"queueId"`
	SeatsBooked      int           `gorm:"not null" json:"seatsBooked"`
	TotalAmount      float64       `gorm:"not null" json:"totalAmount"`
	BookingSource    BookingSource `gorm:"default:STATION" json:"bookingSource"`
	PaymentStatus    PaymentStatus `gorm:"default:PAID" json:"paymentStatus"`
	PaymentMethod    string        `gorm:"default:CASH" json:"paymentMethod"`
	VerificationCode string        `gorm:"uniqueIndex;not null" json:"verificationCode"`
	IsVerified       bool          `gorm:"default:false" json:"isVerified"`
	VerifiedAt       *time.Time    `json:"verifiedAt,omitempty"`
	VerifiedByID     *string       `json:"verifiedById,omitempty"`
	CreatedBy        string        `gorm:"index;not null" json:"createdBy"`
	CreatedAt        time.Time     `json:"createdAt"`
}

// Trip records a fully loaded departure-ready vehicle. Created the instant a
// queue row transitions to READY; the reconciler ships it to central.
type Trip struct {
	ID              string     `gorm:"primaryKey" json:"id"`
	VehicleID       string     `gorm:"index;not null" json:"vehicleId"`
	LicensePlate    string     `json:"licensePlate"`
	DestinationID   string     `gorm:"index;not null" json:"destinationId"`
	DestinationName string     `json:"destinationName"`
	QueueID         string     `gorm:"index;not null" json:"queueId"`
	SeatsBooked     int        `json:"seatsBooked"`
	StartTime       time.Time  `json:"startTime"`
	SyncStatus      SyncStatus `gorm:"index;default:PENDING" json:"syncStatus"`
	SyncRetries     int        `gorm:"default:0" json:"syncRetries"`
	SyncedAt        *time.Time `json:"syncedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// DayPass is a flat-rate daily operating pass, used only in reporting
// aggregation.
type DayPass struct {
	ID           string    `gorm:"primaryKey" json:"id"`
	LicensePlate string    `gorm:"index;not null" json:"licensePlate"`
	Price        float64   `json:"price"`
	PurchaseDate time.Time `gorm:"index" json:"purchaseDate"`
	CreatedBy    string    `gorm:"index;not null" json:"createdBy"`
	CreatedAt    time.Time `json:"createdAt"`
}
