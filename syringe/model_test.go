package syringe

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-cavro/logger"
)

func TestModel_SpeedTable(t *testing.T) {
	for name, m := range Models {
		assert.Nil(t, m.CheckSpeedTable(), name)
	}

	top, err := XCaliburD.SpeedForCode(11)
	require.NoError(t, err)
	assert.Equal(t, 1400, top)

	top, err = XCaliburD.SpeedForCode(40)
	require.NoError(t, err)
	assert.Equal(t, 10, top)

	_, err = XCaliburD.SpeedForCode(41)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "speed code", verr.Param)
}

func TestModel_CheckSpeedTableDiscrepancy(t *testing.T) {
	m := *XCaliburD
	m.SpeedTable[27] = 200

	issues := m.CheckSpeedTable()
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0], "speed code 27")
	assert.Equal(t, 100, XCaliburD.SpeedTable[27], "built-in table must stay untouched")
}

func TestNew_LogsSpeedTableDiscrepancy(t *testing.T) {
	m := *XCaliburD
	m.SpeedTable[27] = 200

	ml := logger.NewMockLogger()
	ml.On("Warn", "syringe: speed table discrepancy", mock.Anything).Once()
	ml.On("Debug", "syringe: speed table note", mock.Anything).Once()

	cfg, err := NewConfig(&m, WithLogger(ml))
	require.NoError(t, err)
	_, err = New(&stubLink{}, cfg)
	require.NoError(t, err)

	ml.AssertExpectations(t)
}

func TestModel_PlungerRange(t *testing.T) {
	assert.Equal(t, Range{0, 3000}, XCaliburD.PlungerRange(false))
	assert.Equal(t, Range{0, 24000}, XCaliburD.PlungerRange(true))
}

func TestModel_ErrorClasses(t *testing.T) {
	m := XCaliburD

	for _, code := range []int{ErrCodeNotInitialized, ErrCodePlungerOverload, ErrCodeValveOverload} {
		assert.True(t, m.IsRecoverable(m.Error(code)), "code %d", code)
	}
	for _, code := range []int{ErrCodeInitialization, ErrCodeInvalidCommand, ErrCodeInvalidOperand, ErrCodeCommandOverflow} {
		assert.False(t, m.IsRecoverable(m.Error(code)), "code %d", code)
	}

	for _, code := range []int{ErrCodeInvalidOperand, ErrCodePlungerOverload, ErrCodeValveOverload, ErrCodeCommandOverflow} {
		assert.True(t, m.IsTransient(m.Error(code)), "code %d", code)
	}
	assert.False(t, m.IsTransient(m.Error(ErrCodeInitialization)))

	wrapped := fmt.Errorf("executing chain: %w", m.Error(ErrCodeNotInitialized))
	assert.True(t, m.IsRecoverable(wrapped))
	assert.False(t, m.IsRecoverable(errors.New("io failure")))
	assert.False(t, m.IsRecoverable(nil))
}

func TestModel_ErrorMessages(t *testing.T) {
	assert.Equal(t, "syringe: Device Not Initialized [7]", XCaliburD.Error(7).Error())
	assert.Equal(t, "syringe: Unknown Error [5]", XCaliburD.Error(5).Error())
	assert.Equal(t, 5, ErrorCode(XCaliburD.Error(5)))
	assert.Zero(t, ErrorCode(errors.New("other")))
}
