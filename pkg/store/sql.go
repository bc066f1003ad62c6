package store

import (
	"context"

	"github.com/pkg/errors"
	"github.com/tunneldesk/tunneldesk/pkg/db"
	"gorm.io/gorm"
)

// SQLStore implements TunnelStore and UserDirectory on a gorm handle.
type SQLStore struct {
	db *gorm.DB
}

func NewSQLStore(client *gorm.DB) *SQLStore {
	return &SQLStore{db: client}
}

var _ TunnelStore = (*SQLStore)(nil)
var _ UserDirectory = (*SQLStore)(nil)

func (s *SQLStore) GetByID(ctx context.Context, id int64) (*db.Tunnel, error) {
	var tunnel db.Tunnel
	result := s.db.WithContext(ctx).Where("id = ?", id).Take(&tunnel)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &tunnel, nil
}

func (s *SQLStore) GetBySubdomain(ctx context.Context, subdomain string) (*db.Tunnel, error) {
	var tunnel db.Tunnel
	result := s.db.WithContext(ctx).Where("sub_domain = ?", subdomain).Take(&tunnel)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &tunnel, nil
}

func (s *SQLStore) GetByUser(ctx context.Context, userID int64, offset, limit int) ([]db.Tunnel, int64, error) {
	query := s.db.WithContext(ctx).Model(&db.Tunnel{}).Where("user_id = ?", userID)
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var tunnels []db.Tunnel
	err := query.Order("create_time DESC, id").Offset(offset).Limit(limit).Find(&tunnels).Error
	if err != nil {
		return nil, 0, err
	}
	return tunnels, total, nil
}

func (s *SQLStore) Query(ctx context.Context, filter TunnelFilter, offset, limit int) ([]TunnelRow, int64, error) {
	query := s.db.WithContext(ctx).Model(&db.Tunnel{}).
		Select("tunnels.*, users.user_name, users.email, users.auth_token").
		Joins("JOIN users ON users.id = tunnels.user_id")
	if filter.UserName != "" {
		query = query.Where("users.user_name = ?", filter.UserName)
	}
	if filter.Email != "" {
		query = query.Where("users.email = ?", filter.Email)
	}
	if filter.Status != nil {
		query = query.Where("tunnels.status = ?", *filter.Status)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []TunnelRow
	err := query.Order("tunnels.create_time DESC, tunnels.id").Offset(offset).Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (s *SQLStore) Insert(ctx context.Context, t *db.Tunnel) error {
	result := s.db.WithContext(ctx).Create(t)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return ErrDuplicate
		}
		return result.Error
	}
	return nil
}

func (s *SQLStore) Update(ctx context.Context, t *db.Tunnel) error {
	return s.db.WithContext(ctx).Save(t).Error
}

func (s *SQLStore) GetUser(ctx context.Context, id int64) (*db.User, error) {
	var user db.User
	result := s.db.WithContext(ctx).Where("id = ?", id).Take(&user)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &user, nil
}
