// accounts.go — учётные записи пользователей: регистрация, вход,
// выход и смена пароля. Пользователь — запись коллекции users,
// хэш пароля (bcrypt) хранится в скрытом поле password_hash.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/bigkaa/goartstore/catalog-module/internal/domain/collation"
	"github.com/bigkaa/goartstore/catalog-module/internal/domain/model"
	"github.com/bigkaa/goartstore/catalog-module/internal/domain/rbac"
	"github.com/bigkaa/goartstore/catalog-module/internal/repository"
)

// LoginResult — результат успешного входа.
type LoginResult struct {
	User      *model.Record
	Token     string
	ExpiresAt time.Time
	// MaxAge — время жизни cookie с токеном
	MaxAge time.Duration
}

// AccountService — сервис учётных записей.
type AccountService struct {
	records    *RecordService
	store      repository.RecordStore
	sessions   *SessionService
	bcryptCost int
	logger     *slog.Logger
}

// NewAccountService создаёт сервис учётных записей.
func NewAccountService(
	records *RecordService,
	store repository.RecordStore,
	sessions *SessionService,
	bcryptCost int,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		records:    records,
		store:      store,
		sessions:   sessions,
		bcryptCost: bcryptCost,
		logger:     logger.With(slog.String("component", "account_service")),
	}
}

// ParseRoles приводит значение поля roles (список или строка через
// запятую) к проверенному набору ролей. Пустое значение даёт роль
// по умолчанию.
func ParseRoles(v any) ([]string, error) {
	if v == nil {
		return []string{rbac.DefaultRole}, nil
	}
	users, _ := model.Lookup(model.CollectionUsers)
	_, fields, err := users.Normalize(map[string]any{model.FieldRoles: v})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err) //nolint:errorlint // намеренный двойной wrap
	}
	list, _ := fields[model.FieldRoles].([]string)
	roles, err := rbac.NormalizeRoles(list)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err) //nolint:errorlint // намеренный двойной wrap
	}
	return roles, nil
}

// hashPassword возвращает bcrypt-хэш пароля.
func (s *AccountService) hashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("%w: пароль обязателен", ErrValidation)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", fmt.Errorf("%w: пароль длиннее 72 байт", ErrValidation)
		}
		return "", fmt.Errorf("хэширование пароля: %w", err)
	}
	return string(hash), nil
}

// Register создаёт пользователя. input содержит поля записи users
// (name, email, roles), пароль передаётся отдельно и сохраняется
// только в виде хэша. Email уникален без учёта регистра.
func (s *AccountService) Register(ctx context.Context, input map[string]any, password string, attachments []model.Attachment) (*model.Record, error) {
	hash, err := s.hashPassword(password)
	if err != nil {
		return nil, err
	}

	data := make(map[string]any, len(input)+1)
	for k, v := range input {
		data[k] = v
	}

	roles, err := ParseRoles(data[model.FieldRoles])
	if err != nil {
		return nil, err
	}
	data[model.FieldRoles] = roles
	data[model.FieldPasswordHash] = hash

	if email, ok := data[model.FieldEmail].(string); ok {
		email = collation.Normalize(email)
		data[model.FieldEmail] = email
		if err := s.checkEmail(ctx, email, ""); err != nil {
			return nil, err
		}
	}

	user, err := s.records.Create(ctx, model.CollectionUsers, data, attachments)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Пользователь зарегистрирован",
		slog.String("id", user.ID),
		slog.Any("roles", roles),
	)
	return user, nil
}

// checkEmail возвращает ErrDuplicate, если email занят другим пользователем.
func (s *AccountService) checkEmail(ctx context.Context, email, excludeID string) error {
	if email == "" {
		return nil
	}
	_, err := s.store.FindOneCaseInsensitive(ctx, model.CollectionUsers, model.FieldEmail, email, excludeID)
	switch {
	case err == nil:
		return fmt.Errorf("%w: email %q", ErrDuplicate, email)
	case errors.Is(err, repository.ErrNotFound):
		return nil
	default:
		return mapStoreError(err)
	}
}

// Login проверяет email и пароль и выпускает сессионный токен.
// Неизвестный email и неверный пароль неразличимы для вызывающего.
func (s *AccountService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = collation.Normalize(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email и пароль обязательны", ErrValidation)
	}

	user, err := s.store.FindOneCaseInsensitive(ctx, model.CollectionUsers, model.FieldEmail, email, "")
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Info("Вход отклонён: пользователь не найден")
			return nil, fmt.Errorf("%w: неверный email или пароль", ErrUnauthorized)
		}
		return nil, mapStoreError(err)
	}

	hash, _ := user.Fields[model.FieldPasswordHash].(string)
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		s.logger.Info("Вход отклонён: неверный пароль", slog.String("id", user.ID))
		return nil, fmt.Errorf("%w: неверный email или пароль", ErrUnauthorized)
	}

	roles, _ := user.Fields[model.FieldRoles].([]string)
	token, expiresAt, err := s.sessions.Issue(user.ID, roles)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Пользователь вошёл", slog.String("id", user.ID))
	return &LoginResult{
		User:      user,
		Token:     token,
		ExpiresAt: expiresAt,
		MaxAge:    TokenTTL,
	}, nil
}

// Logout отзывает токен. Без токена возвращает ErrUnauthorized.
func (s *AccountService) Logout(token string) error {
	if token == "" {
		return fmt.Errorf("%w: вход не выполнен", ErrUnauthorized)
	}
	s.sessions.Revoke(token)
	return nil
}

// UpdatePassword меняет пароль пользователя после проверки старого
// пароля и совпадения подтверждения.
func (s *AccountService) UpdatePassword(ctx context.Context, id, oldPassword, newPassword, confirmPassword string) error {
	user, err := s.records.Get(ctx, model.CollectionUsers, id)
	if err != nil {
		return err
	}

	hash, _ := user.Fields[model.FieldPasswordHash].(string)
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(oldPassword)); err != nil {
		return fmt.Errorf("%w: неверный старый пароль", ErrValidation)
	}
	if newPassword != confirmPassword {
		return fmt.Errorf("%w: пароли не совпадают", ErrValidation)
	}

	newHash, err := s.hashPassword(newPassword)
	if err != nil {
		return err
	}

	if _, err := s.records.Update(ctx, model.CollectionUsers, id, map[string]any{
		model.FieldPasswordHash: newHash,
	}, nil); err != nil {
		return err
	}

	s.logger.Info("Пароль изменён", slog.String("id", user.ID))
	return nil
}

// UpdateProfile обновляет пользователя. Смена email проверяется на
// уникальность, роли приводятся к проверенному набору.
func (s *AccountService) UpdateProfile(ctx context.Context, id string, input map[string]any, attachments []model.Attachment) (*model.Record, error) {
	data := make(map[string]any, len(input))
	for k, v := range input {
		data[k] = v
	}

	if v, ok := data[model.FieldRoles]; ok {
		roles, err := ParseRoles(v)
		if err != nil {
			return nil, err
		}
		data[model.FieldRoles] = roles
	}
	if email, ok := data[model.FieldEmail].(string); ok {
		email = collation.Normalize(email)
		data[model.FieldEmail] = email
		if err := validateID(id); err != nil {
			return nil, err
		}
		if err := s.checkEmail(ctx, email, id); err != nil {
			return nil, err
		}
	}

	return s.records.Update(ctx, model.CollectionUsers, id, data, attachments)
}
