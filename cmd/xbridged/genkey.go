package main

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"
)

// runGenKey prints a fresh BIP39 mnemonic and the P2PKH address its first
// receiving key derives to (account 0, external chain, index 0), so an
// operator can populate a wallets entry in xbridged.yaml for a local dry-run without
// an existing wallet daemon. It never touches the live swap path — every
// real signature is obtained through internal/walletrpc, per spec.md §6.
func runGenKey(addrVersion byte) error {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return fmt.Errorf("generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return fmt.Errorf("generate mnemonic: %w", err)
	}

	seed := bip39.NewSeed(mnemonic, "")
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return fmt.Errorf("derive master key: %w", err)
	}

	purpose, err := master.Derive(hdkeychain.HardenedKeyStart + 44)
	if err != nil {
		return fmt.Errorf("derive purpose: %w", err)
	}
	coin, err := purpose.Derive(hdkeychain.HardenedKeyStart)
	if err != nil {
		return fmt.Errorf("derive coin: %w", err)
	}
	account, err := coin.Derive(hdkeychain.HardenedKeyStart)
	if err != nil {
		return fmt.Errorf("derive account: %w", err)
	}
	external, err := account.Derive(0)
	if err != nil {
		return fmt.Errorf("derive change: %w", err)
	}
	first, err := external.Derive(0)
	if err != nil {
		return fmt.Errorf("derive address key: %w", err)
	}

	var privKey *btcec.PrivateKey
	privKey, err = first.ECPrivKey()
	if err != nil {
		return fmt.Errorf("recover private key: %w", err)
	}
	pubKey := privKey.PubKey()

	params := &chaincfg.Params{PubKeyHashAddrID: addrVersion}
	pubKeyHash := btcutil.Hash160(pubKey.SerializeCompressed())
	addr, err := btcutil.NewAddressPubKeyHash(pubKeyHash, params)
	if err != nil {
		return fmt.Errorf("derive address: %w", err)
	}

	fmt.Printf("mnemonic: %s\n", mnemonic)
	fmt.Printf("private key (m/44'/0'/0'/0/0): %s\n", hex.EncodeToString(privKey.Serialize()))
	fmt.Printf("address (m/44'/0'/0'/0/0): %s\n", addr.EncodeAddress())
	return nil
}
