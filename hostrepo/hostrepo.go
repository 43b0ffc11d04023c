// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

// Package hostrepo persists the hosts registered with the services debugger
// in an SQLite database.
package hostrepo

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/siemens/svcdebug/api"
)

// ErrHostNotFound is returned for unknown host IDs.
var ErrHostNotFound = errors.New("host not found")

// hostRecord is the database row of a registered host.
type hostRecord struct {
	ID          int    `gorm:"column:host_id;primaryKey;autoIncrement"`
	Name        string `gorm:"size:32;not null"`
	Description string `gorm:"size:256"`
	SSHAddress  string `gorm:"column:ssh_address;size:256;not null"`
	SSHPort     int    `gorm:"column:ssh_port;default:22"`
	Username    string `gorm:"size:256"`
	Password    string `gorm:"size:256"`
}

func (hostRecord) TableName() string { return "hosts" }

var columns = []string{"name", "description", "ssh_address", "ssh_port", "username", "password"}

func fromHost(h *api.Host) hostRecord {
	return hostRecord{
		ID:          h.ID,
		Name:        h.Name,
		Description: h.Description,
		SSHAddress:  h.SSHAddress,
		SSHPort:     h.SSHPort,
		Username:    h.Username,
		Password:    h.Password,
	}
}

func (r *hostRecord) host() *api.Host {
	return &api.Host{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		SSHAddress:  r.SSHAddress,
		SSHPort:     r.SSHPort,
		Username:    r.Username,
		Password:    r.Password,
	}
}

// Repository stores host descriptions. It can safely be used from multiple
// go routines simultaneously.
type Repository struct {
	db  *gorm.DB
	log *log.Entry
}

// Open opens (or creates) the SQLite host database with the specified DSN,
// such as a file path or "file::memory:".
func Open(dsn string) (*Repository, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: NewLogger(),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open host database %q", dsn)
	}
	return New(db)
}

// New returns a host repository using the specified database, creating or
// migrating the hosts table as necessary.
func New(db *gorm.DB) (*Repository, error) {
	if err := db.AutoMigrate(&hostRecord{}); err != nil {
		return nil, errors.Wrap(err, "cannot migrate host database")
	}
	return &Repository{
		db:  db,
		log: log.WithField("repo", "hosts"),
	}, nil
}

// Close the underlying database.
func (r *Repository) Close() error {
	sqldb, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqldb.Close()
}

// Add stores a new host, returning its assigned ID. Any ID set in the host
// description is ignored.
func (r *Repository) Add(h *api.Host) (int, error) {
	rec := fromHost(h)
	rec.ID = 0
	if err := r.db.Create(&rec).Error; err != nil {
		return 0, errors.Wrap(err, "cannot add host")
	}
	r.log.WithField("host_id", rec.ID).Infof("added host %q", rec.Name)
	return rec.ID, nil
}

// All returns all hosts, ordered by their IDs.
func (r *Repository) All() (api.Hosts, error) {
	var recs []hostRecord
	if err := r.db.Order("host_id").Find(&recs).Error; err != nil {
		return nil, errors.Wrap(err, "cannot list hosts")
	}
	r.log.Infof("listing %d hosts", len(recs))
	hosts := make(api.Hosts, 0, len(recs))
	for idx := range recs {
		hosts = append(hosts, recs[idx].host())
	}
	return hosts, nil
}

// Get returns the host with the specified ID.
func (r *Repository) Get(id int) (*api.Host, error) {
	l := r.log.WithField("host_id", id)
	l.Info("getting host")
	var rec hostRecord
	err := r.db.First(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		l.Info("host not found")
		return nil, errors.Wrapf(ErrHostNotFound, "host_id=%d", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "cannot get host %d", id)
	}
	return rec.host(), nil
}

// Update replaces the description of the host with the specified ID.
func (r *Repository) Update(id int, h *api.Host) error {
	l := r.log.WithField("host_id", id)
	l.Info("updating host")
	rec := fromHost(h)
	rec.ID = id
	res := r.db.Model(&hostRecord{ID: id}).Select(columns).Updates(&rec)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "cannot update host %d", id)
	}
	if res.RowsAffected == 0 {
		l.Info("host not found")
		return errors.Wrapf(ErrHostNotFound, "host_id=%d", id)
	}
	return nil
}

// Delete removes the host with the specified ID.
func (r *Repository) Delete(id int) error {
	l := r.log.WithField("host_id", id)
	l.Info("deleting host")
	res := r.db.Delete(&hostRecord{}, id)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "cannot delete host %d", id)
	}
	if res.RowsAffected == 0 {
		l.Info("host not found")
		return errors.Wrapf(ErrHostNotFound, "host_id=%d", id)
	}
	return nil
}
