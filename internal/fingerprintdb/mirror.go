package fingerprintdb

import (
	"github.com/banshee-data/rssi.locate/internal/fingerprint"
	"github.com/banshee-data/rssi.locate/internal/monitoring"
)

// Mirror keeps the database in step with an engine's in-memory store. Its
// methods match localization.StoreListener. Write failures are logged, not
// returned, because the in-memory change has already happened.
type Mirror struct {
	DB *DB
}

func (m Mirror) FingerprintStored(e fingerprint.Entry) {
	if err := m.DB.SaveFingerprint(e.SphereID, e.LocationID, e.Fingerprint); err != nil {
		monitoring.Logf("[fingerprintdb] %v", err)
	}
}

func (m Mirror) FingerprintRemoved(sphereID, locationID string) {
	if _, err := m.DB.DeleteFingerprint(sphereID, locationID); err != nil {
		monitoring.Logf("[fingerprintdb] failed to delete %s/%s: %v", sphereID, locationID, err)
	}
}

func (m Mirror) SphereRemoved(sphereID string) {
	if _, err := m.DB.DeleteSphere(sphereID); err != nil {
		monitoring.Logf("[fingerprintdb] failed to delete sphere %s: %v", sphereID, err)
	}
}

func (m Mirror) StoreCleared() {
	if _, err := m.DB.ClearFingerprints(); err != nil {
		monitoring.Logf("[fingerprintdb] failed to clear fingerprints: %v", err)
	}
}
