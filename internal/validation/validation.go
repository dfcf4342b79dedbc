// Package validation содержит функции валидации входных данных.
package validation

import (
	"net/mail"
	"net/url"
	"strings"
)

// IsValidEmail проверяет синтаксическую корректность адреса почты.
func IsValidEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	// mail.ParseAddress принимает формы с отображаемым именем,
	// здесь нужен голый адрес.
	if addr.Address != email {
		return false
	}
	return strings.Contains(email, ".")
}

// IsValidLink проверяет, что ссылка назначения заказа — абсолютный
// http(s)-URL с указанием хоста.
func IsValidLink(link string) bool {
	if link == "" {
		return false
	}
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}
