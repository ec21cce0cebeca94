package models

import (
	"context"
	"errors"
	"html"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/stockcount_backend/config"
	"github.com/mmdatafocus/stockcount_backend/utils"
	"golang.org/x/crypto/bcrypt"
)

type User struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index" json:"business_id"`
	Username   string    `gorm:"size:100;not null;unique" json:"username" binding:"required"`
	Name       string    `gorm:"size:100" json:"name"`
	Email      *string   `gorm:"size:100;unique" json:"email"`
	Phone      string    `gorm:"size:20" json:"phone"`
	Mobile     string    `gorm:"size:20" json:"mobile"`
	Password   string    `gorm:"size:255;not null" json:"password"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	Role       UserRole  `gorm:"type:enum('A', 'C');default:C" json:"role"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	BusinessId string   `json:"business_id"`
	Username   string   `json:"username" binding:"required"`
	Name       string   `json:"name"`
	Email      string   `json:"email"`
	Phone      string   `json:"phone"`
	Mobile     string   `json:"mobile"`
	Password   string   `json:"password" binding:"required"`
	Role       UserRole `json:"role"`
}

/*
caches:
	User:$username
	Token:$token => username
	Tokens:$username => set of live tokens
*/

func (user User) RemoveInstanceRedis() error {
	if err := config.RemoveRedisKey("User:" + user.Username); err != nil {
		return err
	}
	return nil
}

type LoginInfo struct {
	Token    string `json:"token"`
	Jwt      string `json:"jwt,omitempty"` // internal ops surface, admins only
	Name     string `json:"name"`
	Role     string `json:"role"`
	Business string `json:"business"`
}

func (result *User) PrepareGive() {
	result.Password = ""
}

// verify credentials, mint a session token and store it in redis
func Login(ctx context.Context, username string, password string) (*LoginInfo, error) {

	db := config.GetDB()
	var err error
	var result LoginInfo

	user := User{}

	// get User info
	exists, err := config.GetRedisObject("User:"+username, &user)
	if err != nil {
		return &result, err
	}
	if !exists {
		err = db.WithContext(ctx).Model(&User{}).Where("username = ?", username).Take(&user).Error

		if err != nil {
			return &result, errors.New("invalid username or password")
		}
	}

	// check login credentials
	err = utils.ComparePassword(user.Password, password)

	if err != nil && err == bcrypt.ErrMismatchedHashAndPassword {
		return &result, errors.New("invalid username or password")
	}

	isActive := *user.IsActive
	if !isActive {
		return &result, errors.New("user is disabled")
	}

	// generate token & response
	token := uuid.New()
	result.Token = token.String()
	result.Name = user.Username
	result.Business = user.BusinessId
	if user.Role == UserRoleAdmin {
		result.Role = "Admin"
		jwtToken, err := utils.JwtGenerate(user.ID, string(user.Role))
		if err != nil {
			return &result, err
		}
		result.Jwt = jwtToken
	} else {
		result.Role = "Counter"
	}

	token_lifespan, err := strconv.Atoi(os.Getenv("TOKEN_HOUR_LIFESPAN"))
	if err != nil {
		return &result, err
	}

	// add new token to the user's tokens set
	if err := config.AddRedisSet("Tokens:"+user.Username, token.String()); err != nil {
		return nil, err
	}
	if err := config.SetRedisValue("Token:"+token.String(), user.Username, time.Duration(token_lifespan)*time.Hour); err != nil {
		return &result, err
	}

	return &result, nil
}

// destroy current session
func Logout(ctx context.Context) (bool, error) {
	token, ok := utils.GetTokenFromContext(ctx)
	if !ok || token == "" {
		return false, errors.New("token is required")
	}
	err := config.RemoveRedisKey("Token:" + token)
	if err != nil {
		return false, nil
	}
	// remove current token from tokens list
	username, ok := utils.GetUsernameFromContext(ctx)
	if !ok || username == "" {
		return false, errors.New("user not found")
	}
	if err := config.RemoveRedisSetMember("Tokens:"+username, token); err != nil {
		return false, err
	}
	return true, nil
}

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {

	db := config.GetDB()

	if input.Email != "" && !utils.IsValidEmail(input.Email) {
		return &User{}, errors.New("invalid email address")
	}
	if strings.TrimSpace(input.Phone) != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
			return &User{}, errors.New("invalid phone number")
		}
	}
	if strings.TrimSpace(input.Mobile) != "" {
		if err := utils.ValidatePhoneNumber(input.Mobile, utils.CountryCode); err != nil {
			return &User{}, errors.New("invalid mobile number")
		}
	}

	// usernames and emails are global, not per business
	if err := utils.ValidateUnique[User](ctx, "", "username", input.Username, 0); err != nil {
		return &User{}, err
	}
	if input.Email != "" {
		if err := utils.ValidateUnique[User](ctx, "", "email", input.Email, 0); err != nil {
			return &User{}, err
		}
	}

	hashedPassword, err := utils.HashPassword(input.Password)
	if err != nil {
		return &User{}, err
	}
	input.Email = strings.ToLower(input.Email)

	role := input.Role
	if role == "" {
		role = UserRoleCounter
	}

	user := User{
		Username:   html.EscapeString(strings.TrimSpace(input.Username)),
		BusinessId: input.BusinessId,
		Name:       input.Name,
		Email:      utils.NilIfEmpty(input.Email),
		Phone:      input.Phone,
		Mobile:     input.Mobile,
		Password:   string(hashedPassword),
		IsActive:   utils.NewTrue(),
		Role:       role,
	}

	err = db.WithContext(ctx).Create(&user).Error
	if err != nil {
		return &User{}, err
	}
	user.Password = ""
	return &user, nil
}

// GetUserByUsername resolves a session username to the full user row,
// redis-cached under User:$username.
func GetUserByUsername(ctx context.Context, username string) (*User, error) {

	db := config.GetDB()
	var user User

	exists, err := config.GetRedisObject("User:"+username, &user)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := db.WithContext(ctx).Model(&User{}).Where("username = ?", username).Take(&user).Error; err != nil {
			return nil, utils.ErrorRecordNotFound
		}
		if err := config.SetRedisObject("User:"+username, user, utils.GetCacheLifespan()); err != nil {
			return nil, err
		}
	}
	return &user, nil
}

func GetUser(ctx context.Context, id int) (*User, error) {

	result, err := utils.FetchSingleModel[User](ctx, id)
	if err != nil {
		return nil, err
	}

	result.PrepareGive()

	return result, nil
}

func GetAllUsers(ctx context.Context) ([]*User, error) {

	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	results, err := utils.FetchAllModels[User](ctx, businessId)
	if err != nil {
		return nil, err
	}

	for i, u := range results {
		u.Password = ""
		results[i] = u
	}

	return results, nil
}

func (user *User) DestroyAllSessions(ctx context.Context) error {
	allTokens, err := config.GetRedisSetMembers("Tokens:" + user.Username)
	if err != nil {
		return err
	}
	for _, token := range allTokens {
		if err := config.RemoveRedisKey("Token:" + token); err != nil {
			return err
		}
	}
	if err := config.RemoveRedisKey("Tokens:" + user.Username); err != nil {
		return err
	}

	return nil
}

func ChangePassword(ctx context.Context, oldPassword string, newPassword string) (*User, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}

	var user User
	db := config.GetDB()
	if err := db.WithContext(ctx).First(&user, userId).Error; err != nil {
		return nil, err
	}
	// check oldPassword
	if err := utils.ComparePassword(user.Password, oldPassword); err != nil {
		return nil, errors.New("old password is wrong")
	}

	hashedPassword, err := utils.HashPassword(newPassword)
	if err != nil {
		return nil, err
	}

	if err := db.WithContext(ctx).Model(&user).UpdateColumn("password", string(hashedPassword)).Error; err != nil {
		return nil, err
	}
	if err := user.RemoveInstanceRedis(); err != nil {
		return nil, err
	}
	// destroying all session tokens
	if err := user.DestroyAllSessions(ctx); err != nil {
		return nil, err
	}

	user.PrepareGive()
	return &user, nil
}
