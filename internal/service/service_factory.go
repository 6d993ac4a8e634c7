package service

import (
	"go.uber.org/zap"

	"registration-service/internal/config"
	"registration-service/internal/encryption"
	"registration-service/internal/hashing"
	"registration-service/internal/notification"
	"registration-service/internal/repository"
	"registration-service/internal/token"
)

// Dependencies are the collaborators shared by every service.
type Dependencies struct {
	Store         repository.Store
	Counters      CounterStore
	Hasher        *hashing.Hasher
	EncryptionMgr *encryption.EncryptionManager
	Notifier      notification.Notifier
	Auditor       Auditor
	Signer        token.Signer
	Config        *config.Config
	Logger        *zap.Logger
}

// ServiceFactory creates and caches service instances.
type ServiceFactory struct {
	deps                Dependencies
	otpService          *OTPService
	registrationService *RegistrationService
	credentialService   *CredentialService
}

func NewServiceFactory(deps Dependencies) *ServiceFactory {
	return &ServiceFactory{deps: deps}
}

// OTPService returns the OTP service instance (singleton)
func (f *ServiceFactory) OTPService() *OTPService {
	if f.otpService == nil {
		f.otpService = NewOTPService(
			f.deps.Store,
			f.deps.Counters,
			f.deps.Hasher,
			f.deps.Notifier,
			f.deps.Auditor,
			f.deps.Config.OTP,
			f.deps.Logger.Named("otp"),
		)
	}
	return f.otpService
}

// RegistrationService returns the registration service instance (singleton)
func (f *ServiceFactory) RegistrationService() *RegistrationService {
	if f.registrationService == nil {
		f.registrationService = NewRegistrationService(
			f.deps.Store,
			f.deps.Hasher,
			f.deps.EncryptionMgr,
			f.deps.Notifier,
			f.deps.Auditor,
			f.deps.Config.Registration,
			f.deps.Logger.Named("registration"),
		)
	}
	return f.registrationService
}

// CredentialService returns the credential service instance (singleton)
func (f *ServiceFactory) CredentialService() *CredentialService {
	if f.credentialService == nil {
		f.credentialService = NewCredentialService(
			f.OTPService(),
			f.RegistrationService(),
			f.deps.Store,
			f.deps.Hasher,
			f.deps.Signer,
			f.deps.Auditor,
			f.deps.Config.JWT,
			f.deps.Logger.Named("credential"),
		)
	}
	return f.credentialService
}
