package database

import "fmt"

// DatabaseConfig is a subset of the configuration focusing solely
// on database connection items
type DatabaseConfig struct {
	User     string `yaml:"username" env:"DB_USERNAME" env-required:"true" validate:"required"`
	Password string `yaml:"password" env:"DB_PASSWORD" env-required:"true"`
	Name     string `yaml:"name" env:"DB_NAME" env-default:"cifonauta" validate:"required"`
	Host     string `yaml:"host" env:"DB_HOST" env-default:"127.0.0.1" validate:"required"`
	Port     string `yaml:"port" env:"DB_PORT" env-default:"5432" validate:"required,numeric"`
	SslMode  string `yaml:"sslmode" env:"DB_SSLMODE" env-default:"disable" validate:"oneof=disable allow prefer require verify-ca verify-full"`
}

func (config DatabaseConfig) DSN() string {
	return fmt.Sprintf(SqlConnectionString, config.Host, config.User, config.Password, config.Name, config.Port, config.SslMode)
}
